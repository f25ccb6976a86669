// Command dc is a small CLI over the device cloud client: device listing
// and file system operations against a configured account.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"devicecloud/pkg/config"
	"devicecloud/pkg/credstore"
	"devicecloud/pkg/devicecloud"
	"devicecloud/pkg/filesystem"
	"devicecloud/pkg/sci"
)

var (
	profileName = flag.String("profile", "", "Use a stored credential profile instead of config values")
	deviceID    = flag.String("device", "", "Target device id (default: all devices)")
	timeout     = flag.Duration("timeout", 2*time.Minute, "Overall command timeout")
)

const usage = `Usage: dc [flags] <command> [args]

Commands:
  devices                  List devices in the account
  ls <path>                List a directory on the targeted device(s)
  get <path>               Print a file from the targeted device(s)
  put <path> <local-file>  Write a local file to the targeted device(s)
  rm <path>                Delete a file on the targeted device(s)
  save-profile <name>      Store the configured credentials encrypted on disk
`

func main() {
	flag.Parse()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if flag.NArg() == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("Failed to load config", "component", "CLI", "error", err)
		os.Exit(1)
	}
	if *profileName != "" {
		store, err := credstore.NewStore(cfg.CredentialFile, cfg.EncryptionKey)
		if err != nil {
			slog.Error("Failed to open credential store", "component", "CLI", "error", err)
			os.Exit(1)
		}
		profile, err := store.Get(*profileName)
		if err != nil {
			slog.Error("Failed to load profile", "component", "CLI", "profile", *profileName, "error", err)
			os.Exit(1)
		}
		cfg.BaseURL = profile.BaseURL
		cfg.Username = profile.Username
		cfg.Password = profile.Password
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, flag.Args()); err != nil {
		slog.Error("Command failed", "component", "CLI", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, args []string) error {
	command, args := args[0], args[1:]

	if command == "save-profile" {
		if len(args) != 1 {
			return fmt.Errorf("save-profile takes exactly one name")
		}
		store, err := credstore.NewStore(cfg.CredentialFile, cfg.EncryptionKey)
		if err != nil {
			return err
		}
		return store.Save(credstore.Profile{
			Name:     args[0],
			BaseURL:  cfg.BaseURL,
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}

	dc, err := devicecloud.New(cfg)
	if err != nil {
		return err
	}

	switch command {
	case "devices":
		devices, err := dc.DeviceCore().ListDevices(ctx, nil, cfg.PageSize)
		if err != nil {
			return err
		}
		for _, d := range devices {
			state := "offline"
			if d.Connected() {
				state = "online"
			}
			fmt.Printf("%-36s %-17s %s\n", d.ConnectwareID(), d.Mac(), state)
		}
		return nil

	case "ls":
		if len(args) != 1 {
			return fmt.Errorf("ls takes exactly one path")
		}
		results, err := dc.FileSystem().ListFiles(ctx, args[0], filesystem.HashAny, target())
		if err != nil {
			return err
		}
		for devID, res := range results {
			if res.Error != nil {
				fmt.Printf("%s: error %d: %s\n", devID, res.Error.Errno, res.Error.Message)
				continue
			}
			for _, d := range res.List.Directories {
				fmt.Printf("%s: dir  %s\n", devID, d.Path)
			}
			for _, f := range res.List.Files {
				fmt.Printf("%s: file %s (%d bytes)\n", devID, f.Path, f.Size)
			}
		}
		return nil

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("get takes exactly one path")
		}
		results, err := dc.FileSystem().GetFile(ctx, args[0], nil, nil, target())
		if err != nil {
			return err
		}
		for devID, res := range results {
			if res.Error != nil {
				fmt.Printf("%s: error %d: %s\n", devID, res.Error.Errno, res.Error.Message)
				continue
			}
			os.Stdout.Write(res.Data)
		}
		return nil

	case "put":
		if len(args) != 2 {
			return fmt.Errorf("put takes a device path and a local file")
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		results, err := dc.FileSystem().PutFile(ctx, filesystem.PutCommand{
			Path:     args[0],
			Data:     data,
			Truncate: true,
		}, target())
		if err != nil {
			return err
		}
		return report(results)

	case "rm":
		if len(args) != 1 {
			return fmt.Errorf("rm takes exactly one path")
		}
		results, err := dc.FileSystem().DeleteFile(ctx, args[0], target())
		if err != nil {
			return err
		}
		return report(results)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func target() sci.Target {
	if *deviceID != "" {
		return sci.DeviceTarget{ID: *deviceID}
	}
	return sci.AllTarget{}
}

func report(results map[string]filesystem.Result) error {
	var failed int
	for devID, res := range results {
		if res.Error != nil {
			failed++
			fmt.Printf("%s: error %d: %s\n", devID, res.Error.Errno, res.Error.Message)
		} else {
			fmt.Printf("%s: ok\n", devID)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d device(s) failed", failed)
	}
	return nil
}
