package main

import (
	"github.com/rs/zerolog/log"
	"github.com/webosose/camcap/internal/api"
	"github.com/webosose/camcap/internal/api/ws"
	"github.com/webosose/camcap/internal/app"
	"github.com/webosose/camcap/internal/camera"
	"github.com/webosose/camcap/internal/mjpeg"
	"github.com/webosose/camcap/pkg/shell"
)

func main() {
	app.Init() // init config and logs

	api.Init() // init HTTP API server
	ws.Init()  // init WS API endpoint

	camera.Init() // webOS camera sessions
	mjpeg.Init()  // MJPEG over camera sessions

	sig := shell.RunUntilSignal()
	log.Info().Str("signal", sig.String()).Msg("exit")

	camera.StopAll()
}
