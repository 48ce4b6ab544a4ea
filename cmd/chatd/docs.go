package main

// General API documentation for swaggo. The generated document lives in
// internal/apidocs and is served with -tags=swagger.
//
// @title           chatd API
// @version         1.0
// @description     HTTP API for a single-session local LLM chat: model selection, loading and streamed replies.
//
// @contact.name   chatd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
