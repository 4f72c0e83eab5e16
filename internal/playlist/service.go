package playlist

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const EventStateChanged = "playlist:state"

const (
	UnknownArtist = "Unknown Artist"
	UnknownTrack  = "Unknown Track"
)

const artistSeparator = " - "

type RepeatMode string

const (
	RepeatNone RepeatMode = "none"
	RepeatAll  RepeatMode = "all"
	RepeatOne  RepeatMode = "one"
)

// Source is a file accepted for the playlist.
type Source struct {
	FileName string
	Path     string
	Duration float64
}

type Track struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Artist   string  `json:"artist"`
	Path     string  `json:"path"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
}

// URLMinter creates and releases playable URLs for track files.
type URLMinter interface {
	Create(path string) string
	Revoke(url string)
}

type Emitter func(eventName string, payload any)

type ChangeListener func(state State)

type State struct {
	Tracks       []Track    `json:"tracks"`
	CurrentIndex int        `json:"currentIndex"`
	CurrentTrack *Track     `json:"currentTrack,omitempty"`
	RepeatMode   RepeatMode `json:"repeatMode"`
	Shuffle      bool       `json:"shuffle"`
	ShuffleOrder []int      `json:"shuffleOrder,omitempty"`
	HasNext      bool       `json:"hasNext"`
	HasPrevious  bool       `json:"hasPrevious"`
	Total        int        `json:"total"`
	UpdatedAt    string     `json:"updatedAt"`
}

type Service struct {
	mu           sync.Mutex
	urls         URLMinter
	tracks       []Track
	currentIndex int
	repeatMode   RepeatMode
	shuffle      bool
	shuffleOrder []int
	updatedAt    time.Time
	emit         Emitter
	onChange     ChangeListener
	rng          *rand.Rand
}

func NewService(urls URLMinter) *Service {
	return &Service{
		urls:         urls,
		currentIndex: -1,
		repeatMode:   RepeatNone,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Service) SetEmitter(emitter Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = emitter
}

func (s *Service) SetOnChange(listener ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = listener
}

func (s *Service) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

func (s *Service) CurrentTrack() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validIndexLocked(s.currentIndex) {
		return nil
	}

	track := s.tracks[s.currentIndex]
	return &track
}

func (s *Service) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentIndex
}

func (s *Service) Add(source Source) Track {
	tracks := s.AddMany([]Source{source})
	return tracks[0]
}

func (s *Service) AddMany(sources []Source) []Track {
	if len(sources) == 0 {
		return []Track{}
	}

	added := make([]Track, 0, len(sources))
	for _, source := range sources {
		added = append(added, s.newTrack(source))
	}

	s.mu.Lock()
	wasEmpty := len(s.tracks) == 0
	s.tracks = append(s.tracks, added...)
	if wasEmpty {
		s.currentIndex = 0
	}
	s.syncShuffleAfterMutationLocked()
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return added
}

// Remove reports whether a track with the id existed.
func (s *Service) Remove(id string) bool {
	s.mu.Lock()
	index := s.indexOfLocked(id)
	if index < 0 {
		s.mu.Unlock()
		return false
	}

	removed := s.tracks[index]
	s.tracks = append(s.tracks[:index], s.tracks[index+1:]...)
	if len(s.tracks) == 0 {
		s.currentIndex = -1
	} else if index < s.currentIndex {
		s.currentIndex--
	} else if s.currentIndex >= len(s.tracks) {
		s.currentIndex = len(s.tracks) - 1
	}
	s.syncShuffleAfterMutationLocked()
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.release(removed)
	s.afterMutation(state)
	return true
}

func (s *Service) Clear() State {
	s.mu.Lock()
	removed := s.tracks
	s.tracks = nil
	s.currentIndex = -1
	s.shuffleOrder = nil
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	for _, track := range removed {
		s.release(track)
	}
	s.afterMutation(state)
	return state
}

func (s *Service) SelectByID(id string) bool {
	s.mu.Lock()
	index := s.indexOfLocked(id)
	if index < 0 {
		s.mu.Unlock()
		return false
	}

	s.currentIndex = index
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return true
}

// SetDuration records a track duration once it is known; unknown ids are ignored.
func (s *Service) SetDuration(id string, seconds float64) {
	if seconds <= 0 {
		return
	}

	s.mu.Lock()
	index := s.indexOfLocked(id)
	if index < 0 || s.tracks[index].Duration == seconds {
		s.mu.Unlock()
		return
	}

	s.tracks[index].Duration = seconds
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
}

func (s *Service) ToggleShuffle() State {
	s.mu.Lock()
	s.shuffle = !s.shuffle
	if s.shuffle {
		s.shuffleOrder = s.permutationLocked()
	} else {
		s.shuffleOrder = nil
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state
}

func (s *Service) ToggleRepeat() RepeatMode {
	s.mu.Lock()
	switch s.repeatMode {
	case RepeatNone:
		s.repeatMode = RepeatAll
	case RepeatAll:
		s.repeatMode = RepeatOne
	default:
		s.repeatMode = RepeatNone
	}
	mode := s.repeatMode
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return mode
}

func (s *Service) SetRepeatMode(mode string) (State, error) {
	normalized, err := ParseRepeatMode(mode)
	if err != nil {
		return s.GetState(), err
	}

	s.mu.Lock()
	s.repeatMode = normalized
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state, nil
}

// PeekNextIndex returns -1 when no next track is available.
func (s *Service) PeekNextIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(1)
}

// PeekPreviousIndex returns -1 when no previous track is available.
func (s *Service) PeekPreviousIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(-1)
}

func (s *Service) AdvanceNext() (*Track, bool) {
	return s.advance(1)
}

func (s *Service) AdvancePrevious() (*Track, bool) {
	return s.advance(-1)
}

func (s *Service) advance(step int) (*Track, bool) {
	s.mu.Lock()
	index := s.resolveLocked(step)
	if index < 0 {
		s.mu.Unlock()
		return nil, false
	}

	s.currentIndex = index
	track := s.tracks[index]
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return &track, true
}

// resolveLocked walks one step through the playback order. The order is the
// shuffle permutation when shuffle is on, otherwise natural index order.
func (s *Service) resolveLocked(step int) int {
	total := len(s.tracks)
	if total == 0 || !s.validIndexLocked(s.currentIndex) {
		return -1
	}

	if s.repeatMode == RepeatOne {
		return s.currentIndex
	}

	order := s.orderLocked()
	position := -1
	for i, index := range order {
		if index == s.currentIndex {
			position = i
			break
		}
	}
	if position < 0 {
		return -1
	}

	target := position + step
	if target >= 0 && target < len(order) {
		return order[target]
	}

	if s.repeatMode != RepeatAll {
		return -1
	}

	if step > 0 {
		return order[0]
	}
	return order[len(order)-1]
}

func (s *Service) orderLocked() []int {
	if s.shuffle && len(s.shuffleOrder) == len(s.tracks) {
		return s.shuffleOrder
	}

	order := make([]int, len(s.tracks))
	for i := range order {
		order[i] = i
	}
	return order
}

func (s *Service) syncShuffleAfterMutationLocked() {
	if !s.shuffle {
		s.shuffleOrder = nil
		return
	}

	if len(s.shuffleOrder) != len(s.tracks) {
		s.shuffleOrder = s.permutationLocked()
	}
}

func (s *Service) permutationLocked() []int {
	order := make([]int, len(s.tracks))
	for i := range order {
		order[i] = i
	}
	s.fisherYatesShuffleLocked(order)
	return order
}

func (s *Service) fisherYatesShuffleLocked(values []int) {
	if len(values) <= 1 {
		return
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	for i := len(values) - 1; i > 0; i-- {
		j := s.rng.Intn(i + 1)
		values[i], values[j] = values[j], values[i]
	}
}

func (s *Service) newTrack(source Source) Track {
	name, artist := DisplayNames(source.FileName)

	track := Track{
		ID:       uuid.NewString(),
		Name:     name,
		Artist:   artist,
		Path:     source.Path,
		Duration: source.Duration,
	}
	if s.urls != nil {
		track.URL = s.urls.Create(source.Path)
	} else {
		track.URL = source.Path
	}

	return track
}

func (s *Service) release(track Track) {
	if s.urls != nil && track.URL != "" {
		s.urls.Revoke(track.URL)
	}
}

// DisplayNames derives (name, artist) from a file name of the form
// "Artist - Title.ext".
func DisplayNames(fileName string) (string, string) {
	base := filepath.Base(strings.TrimSpace(fileName))
	if base == "." || base == string(filepath.Separator) {
		base = ""
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	artist := UnknownArtist
	name := stem
	if parts := strings.SplitN(stem, artistSeparator, 2); len(parts) == 2 {
		artist = parts[0]
		name = parts[1]
	}

	if name == "" {
		name = UnknownTrack
	}
	if artist == "" {
		artist = UnknownArtist
	}

	return name, artist
}

func ParseRepeatMode(mode string) (RepeatMode, error) {
	switch RepeatMode(strings.ToLower(strings.TrimSpace(mode))) {
	case "", RepeatNone, "off":
		return RepeatNone, nil
	case RepeatAll:
		return RepeatAll, nil
	case RepeatOne:
		return RepeatOne, nil
	default:
		return "", fmt.Errorf("invalid repeat mode %q", mode)
	}
}

func (s *Service) afterMutation(state State) {
	s.emitState(state)
	s.notifyChange(state)
}

func (s *Service) emitState(state State) {
	s.mu.Lock()
	emitter := s.emit
	s.mu.Unlock()

	if emitter != nil {
		emitter(EventStateChanged, state)
	}
}

func (s *Service) notifyChange(state State) {
	s.mu.Lock()
	listener := s.onChange
	s.mu.Unlock()

	if listener != nil {
		listener(state)
	}
}

func (s *Service) snapshotLocked() State {
	tracks := make([]Track, len(s.tracks))
	copy(tracks, s.tracks)

	state := State{
		Tracks:       tracks,
		CurrentIndex: s.currentIndex,
		RepeatMode:   s.repeatMode,
		Shuffle:      s.shuffle,
		HasNext:      s.resolveLocked(1) >= 0,
		HasPrevious:  s.resolveLocked(-1) >= 0,
		Total:        len(tracks),
	}

	if s.shuffle {
		state.ShuffleOrder = append([]int(nil), s.shuffleOrder...)
	}

	if s.validIndexLocked(s.currentIndex) {
		track := tracks[s.currentIndex]
		state.CurrentTrack = &track
	}

	if !s.updatedAt.IsZero() {
		state.UpdatedAt = s.updatedAt.UTC().Format(time.RFC3339)
	}

	return state
}

func (s *Service) touchLocked() {
	s.updatedAt = time.Now().UTC()
}

func (s *Service) indexOfLocked(id string) int {
	for i, track := range s.tracks {
		if track.ID == id {
			return i
		}
	}
	return -1
}

func (s *Service) validIndexLocked(index int) bool {
	return index >= 0 && index < len(s.tracks)
}
