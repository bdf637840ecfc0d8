package main

import (
	"boorusync/cmd/handlers"
	"boorusync/internal/logger"
)

func main() {
	logger.Init() // Initialize the logger
	handlers.Execute()
}
