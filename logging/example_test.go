package logging_test

import (
	"github.com/grovetools/statesync/logging"
	"github.com/sirupsen/logrus"
)

func ExampleNewLogger() {
	log := logging.NewLogger("push")

	log.Debug("Fragment written")
	log.Info("Client connected")

	log.WithFields(logrus.Fields{
		"session": "3f1c",
		"changes": 12,
	}).Info("Flushed session tree")
}
