package amqp

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	ClientProduct = "amqp-client-go"
	ClientVersion = "0.1.0"
)

// clientPropertiesWithDefaults returns the identification properties sent in
// connection.start-ok, overlaid with whatever the caller provided.
func clientPropertiesWithDefaults(provided Table, versionKey string) Table {
	properties := Table{
		"product":             ClientProduct,
		versionKey:            ClientVersion,
		"platform":            runtime.GOOS + "/" + runtime.GOARCH,
		"qpid.client_process": filepath.Base(os.Args[0]),
		"qpid.client_pid":     os.Getpid(),
		"qpid.client_ppid":    os.Getppid(),
	}
	for key, value := range provided {
		properties[key] = value
	}
	return properties
}
