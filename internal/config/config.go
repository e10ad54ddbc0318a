// Package config loads the board table.
//
// Boards come from the environment: BOARD_KEYS is a comma-separated list of
// slugs whose position fixes the board id (starting at 1), and each slug
// names a variable holding "{title},{default_name}[,{local_rule}]". A YAML
// file named by BOARDS_FILE can overlay richer per-board settings, mainly
// multi-line local rules that do not survive env quoting.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/edgebb/edgebb/internal/models"
)

// Boards is the resolved board table.
type Boards struct {
	// Keys maps board_key to board_id.
	Keys map[string]int
	// List holds the boards in id order.
	List []models.Board
}

type yamlBoard struct {
	Key         string `yaml:"key"`
	Title       string `yaml:"title"`
	DefaultName string `yaml:"default_name"`
	LocalRule   string `yaml:"local_rule"`
}

type yamlFile struct {
	Boards []yamlBoard `yaml:"boards"`
}

// LoadBoards resolves the board table from the environment plus the optional
// YAML overlay. getenv is injectable for tests.
func LoadBoards(getenv func(string) string) (*Boards, error) {
	rawKeys := getenv("BOARD_KEYS")
	if rawKeys == "" {
		return nil, fmt.Errorf("BOARD_KEYS is not set")
	}

	boards := &Boards{Keys: make(map[string]int)}
	for i, key := range strings.Split(rawKeys, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("BOARD_KEYS contains an empty slug at position %d", i)
		}
		if _, dup := boards.Keys[key]; dup {
			return nil, fmt.Errorf("BOARD_KEYS contains duplicate slug %q", key)
		}

		board := models.Board{ID: i + 1, BoardKey: key}
		if info := getenv(key); info != "" {
			parts := strings.SplitN(info, ",", 3)
			if len(parts) < 2 {
				return nil, fmt.Errorf("board %q config must be \"title,default_name\"", key)
			}
			board.Title = parts[0]
			board.DefaultName = parts[1]
			if len(parts) == 3 {
				board.LocalRule = parts[2]
			}
		}

		boards.Keys[key] = board.ID
		boards.List = append(boards.List, board)
	}

	if file := getenv("BOARDS_FILE"); file != "" {
		if err := boards.overlayFile(file); err != nil {
			return nil, err
		}
	}
	return boards, nil
}

func (b *Boards) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read boards file: %w", err)
	}
	var parsed yamlFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse boards file: %w", err)
	}

	for _, yb := range parsed.Boards {
		id, ok := b.Keys[yb.Key]
		if !ok {
			return fmt.Errorf("boards file names unknown board %q (not in BOARD_KEYS)", yb.Key)
		}
		board := &b.List[id-1]
		if yb.Title != "" {
			board.Title = yb.Title
		}
		if yb.DefaultName != "" {
			board.DefaultName = yb.DefaultName
		}
		if yb.LocalRule != "" {
			board.LocalRule = yb.LocalRule
		}
	}
	return nil
}

// ByID returns the board with the given id, or nil.
func (b *Boards) ByID(id int) *models.Board {
	if id < 1 || id > len(b.List) {
		return nil
	}
	return &b.List[id-1]
}

// ByKey returns the board with the given key, or nil.
func (b *Boards) ByKey(key string) *models.Board {
	id, ok := b.Keys[key]
	if !ok {
		return nil
	}
	return b.ByID(id)
}
