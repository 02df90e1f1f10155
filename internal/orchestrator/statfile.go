package orchestrator

import (
	"os"
	"time"
)

type fileInfo struct {
	Size    int64
	ModTime time.Time
}

func statFile(path string) (fileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileInfo{}, err
	}
	return fileInfo{Size: info.Size(), ModTime: info.ModTime()}, nil
}
