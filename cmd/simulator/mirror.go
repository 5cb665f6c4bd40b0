package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"trafficeditor.app/internal/persistence/objstore"
)

// buildMirror returns nil unless TE_MIRROR is set; a nil *Mirror ignores
// Enqueue and Close.
func buildMirror(dataDir string, logger *log.Logger) (*objstore.Mirror, error) {
	if !envBool("TE_MIRROR", false) {
		return nil, nil
	}
	opts := objstore.Options{
		Endpoint:        strings.TrimSpace(os.Getenv("TE_MIRROR_ENDPOINT")),
		Bucket:          strings.TrimSpace(os.Getenv("TE_MIRROR_BUCKET")),
		Region:          strings.TrimSpace(os.Getenv("TE_MIRROR_REGION")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("TE_MIRROR_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("TE_MIRROR_SECRET_ACCESS_KEY")),
	}
	client, err := objstore.New(opts)
	if err != nil {
		return nil, fmt.Errorf("TE_MIRROR=true: %w", err)
	}
	workers := envInt("TE_MIRROR_WORKERS", 2)
	return objstore.NewMirror(client, dataDir, os.Getenv("TE_MIRROR_PREFIX"), workers, logger), nil
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
