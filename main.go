package main

import (
	"context"
	"database/sql"
	"embed"
	"log"

	"cadence/internal/config"
	"cadence/internal/db"
	"cadence/internal/intake"
	"cadence/internal/logging"
	"cadence/internal/media"
	"cadence/internal/platform"
	"cadence/internal/player"
	"cadence/internal/playlist"
	"cadence/internal/session"
	"cadence/internal/stats"

	"github.com/wailsapp/wails/v3/pkg/application"
)

// Wails uses Go's `embed` package to embed the frontend files into the binary.
// Any files in the frontend/dist folder will be embedded into the binary and
// made available to the frontend.
// See https://pkg.go.dev/embed for more information.

//go:embed all:frontend/dist
var assets embed.FS

func init() {
	application.RegisterEvent[playlist.State](playlist.EventStateChanged)
	application.RegisterEvent[player.State](player.EventStateChanged)
	application.RegisterEvent[session.Frame](session.EventFrame)
	application.RegisterEvent[intake.Result](intake.EventAdmitted)
}

func main() {
	settings := config.Load()

	paths, err := config.ResolvePaths("cadence")
	if err != nil {
		log.Fatal(err)
	}

	logFile := settings.LogFile
	if logFile == "" {
		logFile = paths.LogPath
	}
	if err := logging.Init(logging.Config{Level: logging.Level(settings.LogLevel), OutputPath: logFile}); err != nil {
		log.Fatal(err)
	}
	defer logging.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sqliteDB *sql.DB
	if settings.History {
		sqliteDB, err = db.Bootstrap(ctx, paths.DBPath)
		if err != nil {
			log.Fatal(err)
		}
		defer sqliteDB.Close()
	}

	registry := media.NewRegistry()
	source, err := player.NewSignalSource(registry)
	if err != nil {
		log.Fatal(err)
	}

	playerOptions := player.DefaultOptions()
	playerOptions.DefaultVolume = settings.DefaultVolume
	playerDomain := player.NewService(source, playerOptions)
	defer playerDomain.Close()

	playlistDomain := playlist.NewService(registry)
	statsDomain := stats.NewService(sqliteDB)

	sessionOptions := session.DefaultOptions()
	sessionOptions.PollInterval = settings.PollInterval
	sessionDomain := session.NewService(playerDomain, playlistDomain, sessionOptions)
	sessionDomain.SetHistory(statsDomain)
	statsDomain.SetBPMSource(sessionDomain.BPM)
	defer sessionDomain.Close()

	intakeDomain := intake.NewService(playlistDomain, int64(settings.MaxUploadMB)<<20)
	defer intakeDomain.StopWatching()

	playerService := NewPlayerService(playerDomain, sessionDomain)
	playlistService := NewPlaylistService(playlistDomain, sessionDomain)
	sessionService := NewSessionService(sessionDomain, intakeDomain)
	intakeService := NewIntakeService(intakeDomain)
	statsService := NewStatsService(statsDomain)
	settingsService := NewSettingsService(settings, intakeDomain)

	app := application.New(application.Options{
		Name:        "Cadence",
		Description: "Desktop music player",
		Services: []application.Service{
			application.NewService(settingsService),
			application.NewService(playlistService),
			application.NewService(playerService),
			application.NewService(sessionService),
			application.NewService(intakeService),
			application.NewService(statsService),
		},
		Assets: application.AssetOptions{
			Handler: application.AssetFileServerFS(assets),
		},
		Mac: application.MacOptions{
			ApplicationShouldTerminateAfterLastWindowClosed: true,
		},
	})

	emit := func(eventName string, payload any) {
		app.Event.Emit(eventName, payload)
	}
	playlistDomain.SetEmitter(emit)
	sessionDomain.SetPlayerEmitter(emit)
	sessionDomain.SetEmitter(emit)
	intakeDomain.SetEmitter(emit)

	if err := sessionDomain.Start(ctx); err != nil {
		logging.Warn("session start failed", logging.ErrorField(err))
	}

	inboxDir := settings.InboxDir
	if inboxDir == "" {
		inboxDir = paths.InboxDir
	}
	if err := intakeDomain.Watch(ctx, inboxDir); err != nil {
		logging.Warn("inbox watcher disabled", logging.ErrorField(err))
	}

	app.Window.NewWithOptions(application.WebviewWindowOptions{
		Title: "Cadence",
		Mac: application.MacWindow{
			InvisibleTitleBarHeight: 50,
			Backdrop:                application.MacBackdropTranslucent,
			TitleBar:                application.MacTitleBarHiddenInset,
		},
		BackgroundColour: application.NewRGB(12, 18, 24),
		URL:              "/",
	})

	platformService := platform.NewService(app, playerDomain, sessionDomain)
	if err := platformService.Start(); err != nil {
		logging.Warn("media keys disabled", logging.ErrorField(err))
	}
	defer platformService.Stop()

	err = app.Run()
	if err != nil {
		log.Fatal(err)
	}
}
