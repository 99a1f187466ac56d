package main

import (
	"github.com/matheus3301/carechat/internal/config"
	"github.com/matheus3301/carechat/internal/session"
)

func loadConfig() (*config.Config, error) {
	return config.FromEnvironment(session.ConfigPath())
}
