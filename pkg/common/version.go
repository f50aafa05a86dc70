// Package common provides shared utilities and configuration for the tio
// proxy: leveled logging, the daemon configuration model, and version
// information.
package common

// Version is the current version of the tio proxy.
const Version = "0.1.0"
