package main

import (
	"flag"
	"log/slog"
	"os"

	"devicecloud/internal/mockcloud"
	"devicecloud/pkg/config"
)

var (
	addr    = flag.String("addr", "", "Listen address (overrides config)")
	devices = flag.Int("devices", 2, "Number of seed devices to register")
)

func main() {
	flag.Parse()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("Failed to load config", "component", "MockCloud", "error", err)
		os.Exit(1)
	}
	listen := cfg.MockListenAddress
	if *addr != "" {
		listen = *addr
	}

	server := mockcloud.NewServer()
	for i := 0; i < *devices; i++ {
		id := seedDeviceID(i)
		server.AddDevice(&mockcloud.Device{
			ID:        id,
			Mac:       seedMac(i),
			Connected: true,
			Files: map[string]*mockcloud.File{
				"/etc/hostname": {Data: []byte(id), Modified: 1},
			},
		})
	}

	slog.Info("Mock device cloud listening", "component", "MockCloud", "addr", listen, "devices", *devices)
	if err := server.Run(listen); err != nil {
		slog.Error("Server stopped", "component", "MockCloud", "error", err)
		os.Exit(1)
	}
}

func seedDeviceID(i int) string {
	return "00000000-00000000-000000FF-FF0000" + hexByte(i)
}

func seedMac(i int) string {
	return "00:40:9D:00:00:" + hexByte(i)
}

func hexByte(i int) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[(i>>4)&0xF], digits[i&0xF]})
}
