package controllers

import (
	"encoding/csv"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"schoolledger_go/config"
	"schoolledger_go/database"
	"schoolledger_go/middleware"
	"schoolledger_go/models"
	"schoolledger_go/services/promotions"
	"schoolledger_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// FeeImportController bulk-loads fee definitions from a spreadsheet export.
// Each row is one fee item; rows sharing a class level are grouped into one
// fee definition for the given period.
type FeeImportController struct{}

// POST /api/import/fees
// Multipart form with fields: file, academic_year, term
func (fc *FeeImportController) Import(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}

	cfg := config.AppConfig
	if cfg != nil {
		if fh.Size > cfg.MaxImportSize {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "file too large"})
		}
		if !utils.IsValidFileExtension(fh.Filename, strings.Split(cfg.AllowedExtensions, ",")) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unsupported file type (csv,xlsx)"})
		}
	}

	academicYear := strings.TrimSpace(c.FormValue("academic_year"))
	term := strings.TrimSpace(c.FormValue("term"))
	if academicYear == "" || term == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "academic_year and term are required"})
	}

	rows, err := readUploadRows(c, fh)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if len(rows) < 2 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file has no data rows"})
	}

	header := rows[0]
	col := mapHeaderIndexes(header)
	for _, required := range []string{"Class Level", "Item Name", "Category Code", "Amount"} {
		if _, ok := col[required]; !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("missing column: %s", required),
			})
		}
	}

	// Category codes resolve against existing active categories only
	var categories []models.FeeCategory
	if err := database.DB.Where("active = ?", true).Find(&categories).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load fee categories"})
	}
	categoryByCode := make(map[string]uint, len(categories))
	for _, cat := range categories {
		categoryByCode[strings.ToUpper(cat.Code)] = cat.ID
	}

	type pendingItem struct {
		row  int
		item models.FeeDefinitionItem
	}
	itemsByClass := map[string][]pendingItem{}
	errorsList := []string{}

	for i := 1; i < len(rows); i++ {
		r := rows[i]
		get := func(key string) string {
			if idx, ok := col[key]; ok && idx < len(r) {
				return strings.TrimSpace(r[idx])
			}
			return ""
		}

		class := strings.ToLower(get("Class Level"))
		name := get("Item Name")
		code := strings.ToUpper(get("Category Code"))
		if class == "" && name == "" && code == "" {
			continue // blank row
		}
		if !promotions.IsKnownClass(class) {
			errorsList = append(errorsList, fmt.Sprintf("row %d: unknown class level %q", i+1, get("Class Level")))
			continue
		}
		if name == "" {
			errorsList = append(errorsList, fmt.Sprintf("row %d: item name is required", i+1))
			continue
		}
		categoryID, ok := categoryByCode[code]
		if !ok {
			errorsList = append(errorsList, fmt.Sprintf("row %d: unknown category code %q", i+1, code))
			continue
		}
		amount, err := decimal.NewFromString(strings.ReplaceAll(get("Amount"), ",", ""))
		if err != nil || !amount.IsPositive() {
			errorsList = append(errorsList, fmt.Sprintf("row %d: invalid amount %q", i+1, get("Amount")))
			continue
		}

		itemsByClass[class] = append(itemsByClass[class], pendingItem{
			row: i + 1,
			item: models.FeeDefinitionItem{
				Name:       name,
				CategoryID: categoryID,
				Amount:     amount,
				SortOrder:  len(itemsByClass[class]) + 1,
			},
		})
	}

	created := 0
	skipped := 0

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		for class, pending := range itemsByClass {
			// One active definition per class and period; re-imports skip
			var existing int64
			if err := tx.Model(&models.FeeDefinition{}).
				Where("class_level = ? AND academic_year = ? AND term = ? AND active = ?",
					class, academicYear, term, true).
				Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				skipped++
				errorsList = append(errorsList, fmt.Sprintf(
					"class %s: active fee definition already exists for %s %s", class, academicYear, term))
				continue
			}

			def := models.FeeDefinition{
				Name:         fmt.Sprintf("%s fees %s %s", class, academicYear, term),
				ClassLevel:   class,
				AcademicYear: academicYear,
				Term:         term,
				Active:       true,
			}
			for _, p := range pending {
				def.Items = append(def.Items, p.item)
			}
			if err := tx.Create(&def).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	middleware.LogActivity(c, "CREATE", "fee_definitions", 0, fiber.Map{
		"action":    "import",
		"file_name": fh.Filename,
		"created":   created,
		"skipped":   skipped,
	})

	return c.JSON(fiber.Map{
		"success":      true,
		"file_name":    fh.Filename,
		"data_rows":    len(rows) - 1,
		"created":      created,
		"skipped":      skipped,
		"errors_count": len(errorsList),
		"errors":       errorsList,
	})
}

func readUploadRows(c *fiber.Ctx, fh *multipart.FileHeader) ([][]string, error) {
	filename := strings.ToLower(fh.Filename)
	switch {
	case strings.HasSuffix(filename, ".csv"):
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("cannot open file")
		}
		defer f.Close()
		return readCSVRows(f)
	case strings.HasSuffix(filename, ".xlsx"):
		// excelize wants a path, so buffer the upload to a temp file
		tmpDir, err := os.MkdirTemp("", "fee-import-")
		if err != nil {
			return nil, fmt.Errorf("failed to buffer upload")
		}
		defer os.RemoveAll(tmpDir)
		tmp := filepath.Join(tmpDir, fmt.Sprintf("%d.xlsx", time.Now().UnixNano()))
		if err := c.SaveFile(fh, tmp); err != nil {
			return nil, fmt.Errorf("failed to buffer upload")
		}
		return readXLSXRows(tmp)
	default:
		return nil, fmt.Errorf("unsupported file type (csv,xlsx)")
	}
}

func readCSVRows(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readXLSXRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sheet := f.GetSheetName(0)
	if sheet == "" {
		sheet = "Sheet1"
	}
	return f.GetRows(sheet)
}

func mapHeaderIndexes(header []string) map[string]int {
	m := map[string]int{}
	for i, h := range header {
		m[strings.TrimSpace(h)] = i
	}
	return m
}
