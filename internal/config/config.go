package config

import (
	"encoding/json"
	"os"
)

type Config struct {
	Headers     map[string]string `json:"headers"`
	Port        int               `json:"port"`
	DownloadDir string            `json:"download_dir"`
	DataDir     string            `json:"data_dir"`
	MegadlPath  string            `json:"megadl_path"` // empty = look up "megadl" in PATH
}

var GlobalConfig = Config{
	Headers: map[string]string{
		"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	},
	Port:        8084,
	DownloadDir: "./downloads",
	DataDir:     "./data",
}

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Use defaults
		}
		return err
	}
	return json.Unmarshal(data, &GlobalConfig)
}
