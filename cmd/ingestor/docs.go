package main

//go:generate swag init -g cmd/ingestor/main.go -o docs

// @title           Local Events Ingestor API
// @version         0.1.0
// @description     Multi-source event ingestion, search and pipeline controls.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
