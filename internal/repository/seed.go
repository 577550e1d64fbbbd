package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"skillswap-backend/internal/models"

	"gopkg.in/yaml.v3"
)

// seedFile is the layout of a user directory seed
//
//	users:
//	  - id: u1
//	    name: Alice Johnson
//	    email: alice@example.com
//	    skill: Guitar
type seedFile struct {
	Users []models.User `yaml:"users"`
}

// LoadSeedUsers parses a YAML seed document
func LoadSeedUsers(data []byte) ([]models.User, error) {
	var seed seedFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	for i, u := range seed.Users {
		if u.ID == "" || u.Name == "" || u.Email == "" {
			return nil, fmt.Errorf("parse seed: user #%d needs id, name and email", i+1)
		}
	}
	return seed.Users, nil
}

// SeedUsers loads users from a YAML file into the store. Users that already
// exist are skipped, so seeding is safe on every start.
func SeedUsers(ctx context.Context, store UserStore, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	users, err := LoadSeedUsers(data)
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range users {
		if err := store.CreateUser(ctx, &users[i]); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return created, fmt.Errorf("seed user '%s': %w", users[i].ID, err)
		}
		created++
	}
	log.Printf("Seeded %d of %d users from %s", created, len(users), path)
	return created, nil
}
