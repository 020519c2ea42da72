package server

//go:generate swag init -g internal/server/server.go -o docs/swagger

// @title Alouette API
// @version 0.1
// @description Free accessibility scans, full RGAA audit triggers and scan status streaming.
// @contact.name Alouette Maintainers
// @contact.url https://alouette-a11y.fr
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
