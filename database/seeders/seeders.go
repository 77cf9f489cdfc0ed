package seeders

import (
	"log"

	"schoolledger_go/database"
	"schoolledger_go/models"
	"schoolledger_go/utils"
)

// SeedAll runs all seeders
func SeedAll() {
	log.Println("Starting database seeding...")

	SeedUsers()
	SeedFeeCategories()

	log.Println("Database seeding completed successfully!")
}

// SeedUsers seeds the default staff accounts
func SeedUsers() {
	var count int64
	database.DB.Model(&models.User{}).Count(&count)
	if count > 0 {
		log.Println("Users already seeded, skipping...")
		return
	}

	hashedPassword, _ := utils.HashPassword("password123")

	users := []models.User{
		{
			Username: "owner",
			Password: hashedPassword,
			Email:    "owner@schoolledger.local",
			Role:     "owner",
			Status:   "active",
		},
		{
			Username: "admin",
			Password: hashedPassword,
			Email:    "admin@schoolledger.local",
			Role:     "admin",
			Status:   "active",
		},
		{
			Username: "bursar",
			Password: hashedPassword,
			Email:    "bursar@schoolledger.local",
			Role:     "bursar",
			Status:   "active",
		},
	}

	for _, user := range users {
		if err := database.DB.Create(&user).Error; err != nil {
			log.Printf("Error seeding user %s: %v", user.Username, err)
		}
	}

	log.Println("Users seeded successfully")
}

// SeedFeeCategories seeds the baseline fee categories referenced by fee
// definitions and budget allocations
func SeedFeeCategories() {
	var count int64
	database.DB.Model(&models.FeeCategory{}).Count(&count)
	if count > 0 {
		log.Println("Fee categories already seeded, skipping...")
		return
	}

	categories := []models.FeeCategory{
		{Name: "Tuition", Code: "TUITION", Description: "Core instruction fees", Active: true},
		{Name: "Transport", Code: "TRANSPORT", Description: "School bus service", Active: true},
		{Name: "Meals", Code: "MEALS", Description: "Lunch and snacks", Active: true},
		{Name: "Activities", Code: "ACTIVITIES", Description: "Clubs, sports and excursions", Active: true},
		{Name: "Materials", Code: "MATERIALS", Description: "Books and learning materials", Active: true},
	}

	for _, category := range categories {
		if err := database.DB.Create(&category).Error; err != nil {
			log.Printf("Error seeding fee category %s: %v", category.Code, err)
		}
	}

	log.Println("Fee categories seeded successfully")
}
