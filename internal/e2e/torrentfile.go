// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package e2e

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

const torrentPieceLength = 256 * 1024

// TorrentFileOptions configure CreateTorrentFile.
type TorrentFileOptions struct {
	// Name of the payload file. Empty picks a unique one.
	Name string
	// SizeMiB is the payload size. Zero writes a single byte.
	SizeMiB  int
	Announce string
}

// TorrentFile is a generated payload plus its metainfo.
type TorrentFile struct {
	Path     string
	DataPath string
	Name     string
	Hash     string
	Announce string
}

// CreateTorrentFile writes a random payload into dir together with a
// <name>.torrent describing it. Peers that share dir can seed it.
func CreateTorrentFile(dir string, opts TorrentFileOptions) (*TorrentFile, error) {
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("e2e-%d.bin", time.Now().UnixNano())
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	dataPath := filepath.Join(dir, name)
	size := int64(opts.SizeMiB) << 20
	if size == 0 {
		size = 1
	}
	if err := writeRandomFile(dataPath, size); err != nil {
		return nil, fmt.Errorf("write payload: %w", err)
	}

	info := metainfo.Info{PieceLength: torrentPieceLength}
	if err := info.BuildFromFilePath(dataPath); err != nil {
		return nil, fmt.Errorf("hash payload: %w", err)
	}
	info.Name = name

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return nil, err
	}

	mi := metainfo.MetaInfo{
		InfoBytes:    infoBytes,
		CreatedBy:    "electorrent-e2e",
		CreationDate: time.Now().Unix(),
	}
	if opts.Announce != "" {
		mi.Announce = opts.Announce
		mi.AnnounceList = [][]string{{opts.Announce}}
	}

	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		return nil, err
	}

	path := dataPath + ".torrent"
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, err
	}

	return &TorrentFile{
		Path:     path,
		DataPath: dataPath,
		Name:     name,
		Hash:     mi.HashInfoBytes().HexString(),
		Announce: opts.Announce,
	}, nil
}

// LoadTorrentFile reads an existing .torrent.
func LoadTorrentFile(path string) (*TorrentFile, error) {
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, err
	}

	return &TorrentFile{
		Path:     path,
		DataPath: filepath.Join(filepath.Dir(path), info.Name),
		Name:     info.Name,
		Hash:     mi.HashInfoBytes().HexString(),
		Announce: mi.Announce,
	}, nil
}

// Magnet returns a magnet link carrying the name and tracker.
func (f *TorrentFile) Magnet() string {
	m := metainfo.Magnet{
		InfoHash:    metainfo.NewHashFromHex(f.Hash),
		DisplayName: f.Name,
	}
	if f.Announce != "" {
		m.Trackers = []string{f.Announce}
	}
	return m.String()
}

func (f *TorrentFile) Bytes() ([]byte, error) {
	return os.ReadFile(f.Path)
}

func writeRandomFile(path string, size int64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := io.CopyN(file, rand.Reader, size); err != nil {
		return err
	}
	return file.Sync()
}
