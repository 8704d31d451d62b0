package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/tuannm99/novastore/internal"
	"github.com/tuannm99/novastore/internal/recman"
)

func main() {
	var (
		configPath = flag.String("config", "novastore.yaml", "path to the YAML config file")
		demo       = flag.Bool("demo", false, "insert a demo record and read it back")
	)
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	opts, err := cfg.ManagerOptions()
	if err != nil {
		slog.Error("bad config", "err", err)
		os.Exit(1)
	}

	m, err := recman.Open(cfg.Workdir, cfg.BaseName(), opts)
	if err != nil {
		slog.Error("open store", "err", err)
		os.Exit(1)
	}

	st := m.Stats()
	fmt.Printf("store %s\n", st.StoreID)
	fmt.Printf("  page size: %d\n", st.PageSize)
	fmt.Printf("  pages:     %d\n", st.Pages)
	fmt.Printf("  records:   %d\n", st.Records)
	fmt.Printf("  strategy:  %s\n", st.Strategy)

	if *demo {
		id, err := m.Insert([]byte("hello from novastore"))
		if err != nil {
			slog.Error("demo insert", "err", err)
			_ = m.Close()
			os.Exit(1)
		}
		payload, err := m.Get(id)
		if err != nil {
			slog.Error("demo get", "err", err)
			_ = m.Close()
			os.Exit(1)
		}
		fmt.Printf("demo record %d: %q\n", id, payload)
	}

	if err := m.Close(); err != nil {
		slog.Error("close store", "err", err)
		os.Exit(1)
	}
}
