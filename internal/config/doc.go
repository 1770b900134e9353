// Package config loads the stardock configuration file. Missing files fall
// back to defaults; malformed files are reported as errors.
package config
