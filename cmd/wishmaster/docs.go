// General API documentation for swaggo. Regenerate the served document with
// `swag init -g cmd/wishmaster/docs.go -o internal/httpapi/docs`.
//
// @title           wishmaster API
// @version         1.0
// @description     HTTP API for local LLM text generation.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
package main
