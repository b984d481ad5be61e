package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("failed to load .env file")
	}

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
