package main

import (
	"context"
	"errors"
	"os"

	"tokenkeeper/internal/database"
	"tokenkeeper/internal/domain"
	"tokenkeeper/internal/repository"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type seedUser struct {
	email    string
	password string
	name     string
	role     domain.Role
}

var users = []seedUser{
	{"admin@tokenkeeper.local", "admin123", "Administrator", domain.RoleAdmin},
	{"dr.aliya@tokenkeeper.local", "psych123", "Aliya Serikova", domain.RolePsychologist},
	{"dr.marat@tokenkeeper.local", "psych123", "Marat Nurlanov", domain.RolePsychologist},
	{"asel@mail.kz", "patient123", "Asel", domain.RolePatient},
	{"bekzat@gmail.com", "patient123", "Bekzat", domain.RolePatient},
	{"dina@yandex.kz", "patient123", "Dina", domain.RolePatient},
}

func main() {
	_ = godotenv.Load()
	log := logrus.New()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "tokenkeeper.db"
	}

	db, err := database.Connect(dsn, log)
	if err != nil {
		log.WithError(err).Fatal("DB connection failed")
	}
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("AutoMigrate failed")
	}

	ctx := context.Background()
	repo := repository.NewUserRepository(db)

	created := 0
	for _, u := range users {
		_, err := repo.GetByEmail(ctx, u.email)
		if err == nil {
			log.WithField("email", u.email).Info("User exists, skipping")
			continue
		}
		if !errors.Is(err, domain.ErrUserNotFound) {
			log.WithError(err).Fatal("User lookup failed")
		}

		hash, err := repository.HashPassword(u.password)
		if err != nil {
			log.WithError(err).Fatal("Password hashing failed")
		}
		if err := repo.Create(ctx, &domain.User{
			Email:        u.email,
			PasswordHash: hash,
			Role:         u.role,
			Name:         u.name,
			Active:       true,
		}); err != nil {
			log.WithError(err).WithField("email", u.email).Fatal("User create failed")
		}
		created++
		log.Infof("%s created: %s / %s", u.role, u.email, u.password)
	}

	log.WithField("created", created).Info("Seed completed")
}
