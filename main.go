package main

import (
	"github.com/uvcam/uvcam/internal/api"
	"github.com/uvcam/uvcam/internal/api/ws"
	"github.com/uvcam/uvcam/internal/app"
	"github.com/uvcam/uvcam/internal/cameras"
	"github.com/uvcam/uvcam/internal/debug"
	"github.com/uvcam/uvcam/pkg/shell"
)

func main() {
	app.Init() // init config and logs

	api.Init() // init HTTP API server
	ws.Init()
	debug.Init()
	cameras.Init() // attach cameras from config

	shell.RunUntilSignal()
}
