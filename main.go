package main

import (
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

func main() {
	_ = godotenv.Load() // SAJDA_TELEGRAM_TOKEN etc.

	fx.New(
		injectInfra(),
		injectLocation(),
		injectSinks(),
		injectScheduler(),
		fx.Invoke(
			run,
			serveAPI,
		),
	).Run()
}
