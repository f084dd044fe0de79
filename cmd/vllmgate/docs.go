package main

// General API documentation for swaggo. Generate with `swag init -g cmd/vllmgate/docs.go`.
//
// @title           vllmgate API
// @version         1.0
// @description     Streaming chat proxy and model lifecycle API in front of a vLLM server.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
//
// @schemes http
