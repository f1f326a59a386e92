package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/podari/internal/auth"
	"github.com/erazemk/podari/internal/model"
	"github.com/erazemk/podari/internal/store"
)

// bootstrapAdmin creates the first administrator when the database has no
// users. It returns the generated password, or "" if users already exist.
func bootstrapAdmin(ctx context.Context, database *sqlx.DB, email string, hashCost int) (string, error) {
	var password string
	err := store.WithTx(ctx, database, func(tx *sqlx.Tx) error {
		n, err := store.CountUsers(ctx, tx)
		if err != nil || n > 0 {
			return err
		}

		password, err = generatePassword(16)
		if err != nil {
			return fmt.Errorf("generating password: %w", err)
		}
		hash, err := auth.HashPassword(password, hashCost)
		if err != nil {
			return err
		}
		if _, err := store.CreateUser(ctx, tx, "Administrator", email, hash, model.RoleAdmin, ""); err != nil {
			return fmt.Errorf("creating admin user: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return password, nil
}

// printInitResult prints the first-run credentials to stdout.
func printInitResult(dbPath, email, password string) {
	fmt.Printf("Database initialized: %s\n", dbPath)
	fmt.Println()
	fmt.Println("Administrator account created:")
	fmt.Printf("  Email:    %s\n", email)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("The administrator can change it after logging in.")
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
