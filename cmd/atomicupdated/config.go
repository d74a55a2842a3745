package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/uplo-tech/errors"
)

// busConfig names the two multicast groups the reference Bus binds, per
// spec.md §6.3.
type busConfig struct {
	WakeGroup string `json:"wake_group"`
	MsgGroup  string `json:"msg_group"`
}

// primaryConfig is the on-disk shape of a Primary run: which serials get
// which payload at which state, and where images referenced by an
// ImageMeta payload live on disk.
type primaryConfig struct {
	Bus         busConfig                     `json:"bus"`
	Timeout     time.Duration                 `json:"timeout"`
	RecoverPath string                        `json:"recover_path"`
	Payloads    map[string]map[string]payload `json:"payloads"`
	Images      map[string]string             `json:"images"` // name -> directory
}

// secondaryConfig is the on-disk shape of a Secondary run.
type secondaryConfig struct {
	Bus         busConfig     `json:"bus"`
	Serial      string        `json:"serial"`
	Timeout     time.Duration `json:"timeout"`
	RecoverPath string        `json:"recover_path"`
	WorkDir     string        `json:"work_dir"`
}

// payload is the JSON shape a config file names a bus.Payload in: a tag
// name plus base64 data, matching bus.Payload's own wire encoding.
type payload struct {
	Tag  string `json:"tag"`
	Data []byte `json:"data"`
}

func loadConfig(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.AddContext(err, "could not open config file")
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return errors.AddContext(err, "could not decode config file")
	}
	return nil
}
