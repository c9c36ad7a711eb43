package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"chatrelay/pkg/types"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Seed is a YAML description of users, channels and blocks to load at startup.
//
//	users:
//	  - id: alice
//	    displayName: Alice
//	channels:
//	  - id: general
//	    name: general
//	    members: [alice, bob]
//	blocks:
//	  - blocker: bob
//	    blocked: mallory
type Seed struct {
	Users    []SeedUser    `yaml:"users" validate:"dive"`
	Channels []SeedChannel `yaml:"channels" validate:"dive"`
	Blocks   []SeedBlock   `yaml:"blocks" validate:"dive"`
}

type SeedUser struct {
	ID          string `yaml:"id" validate:"required,max=64"`
	DisplayName string `yaml:"displayName" validate:"max=128"`
	AvatarURL   string `yaml:"avatarUrl" validate:"omitempty,url"`
}

type SeedChannel struct {
	ID      string   `yaml:"id" validate:"required,max=64"`
	Name    string   `yaml:"name" validate:"required,max=128"`
	Private bool     `yaml:"private"`
	Members []string `yaml:"members" validate:"dive,required"`
}

type SeedBlock struct {
	Blocker string `yaml:"blocker" validate:"required"`
	Blocked string `yaml:"blocked" validate:"required,nefield=Blocker"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	if err := validate.Struct(&seed); err != nil {
		return nil, fmt.Errorf("invalid seed file %s: %w", path, err)
	}
	return &seed, nil
}

// ApplySeed upserts everything in seed in one transaction. Members and block
// parties must be listed under users or already exist.
func (m *Manager) ApplySeed(ctx context.Context, seed *Seed) error {
	now := time.Now()
	return m.withTx(ctx, func(tx *sql.Tx) error {
		for _, u := range seed.Users {
			user := types.UserIdentity{ID: u.ID, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
			if err := upsertUser(ctx, tx, user); err != nil {
				return err
			}
		}
		for _, c := range seed.Channels {
			ch := types.Channel{ID: c.ID, Name: c.Name, IsPrivate: c.Private}
			if err := upsertChannel(ctx, tx, ch, now); err != nil {
				return err
			}
			for _, member := range c.Members {
				if err := addMember(ctx, tx, c.ID, member, now); err != nil {
					return err
				}
			}
		}
		for _, b := range seed.Blocks {
			if err := block(ctx, tx, b.Blocker, b.Blocked, now); err != nil {
				return err
			}
		}
		return nil
	})
}
