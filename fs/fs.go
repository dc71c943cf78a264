// Package appfs embeds the files the app needs at runtime: database migrations & assets.
package appfs

import "embed"

// all: keeps the "_"-prefixed base email layouts.
//
//go:embed migrations all:assets
var FS embed.FS
