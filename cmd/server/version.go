package main

// version is stamped at build time via -ldflags "-X main.version=<tag>".
var version = "dev"
