// Command seed loads sample programs, plans and form schemas for local runs.
// Running it twice leaves the same data in place.
package main

import (
	"context"
	"os"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lojf/academy/internal/config"
	"github.com/lojf/academy/internal/db"
	"github.com/lojf/academy/internal/formschema"
	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/models"
)

const campSchema = `{
  "title": "Holiday coding camp",
  "description": "One form per participant.",
  "fields": [
    {"id": "about", "type": "section-divider", "label": "About the participant"},
    {"id": "name", "type": "short-text", "label": "Full name", "required": true},
    {"id": "dob", "type": "date", "label": "Date of birth", "required": true},
    {"id": "track", "type": "single-choice", "label": "Track", "required": true, "options": ["Scratch", "Python", "Robotics"]},
    {"id": "contact", "type": "section-divider", "label": "Contact"},
    {"id": "email", "type": "email", "label": "Email"},
    {"id": "phone", "type": "phone", "label": "Phone", "required": true},
    {"id": "notes", "type": "long-text", "label": "Allergies or notes"}
  ]
}`

// Family prices derive from the individual price, so only individual rows are seeded.
type seedProgram struct {
	title       string
	description string
	individual  int64
}

var programs = []seedProgram{
	{"Holiday coding camp", "Two weeks of coding for ages 8 to 16.", 20000},
	{"Robotics weekend", "Build and race a line follower.", 35000},
}

var skills = []string{"Public speaking", "Chess"}

func main() {
	log := logger.NewStructured("info", "console")

	cfg, err := config.Load()
	if err != nil {
		fatal(log, err, "config load failed", nil)
	}
	if err := db.Init(cfg.Database, log); err != nil {
		fatal(log, err, "db init failed", nil)
	}
	conn := db.Conn()
	ctx := context.Background()
	schemas := formschema.NewStore(conn, nil, 0, log)

	for _, sp := range programs {
		var p models.Program
		if err := conn.Where(models.Program{Title: sp.title}).
			Attrs(models.Program{Description: sp.description}).
			FirstOrCreate(&p).Error; err != nil {
			fatal(log, err, "seed program", map[string]interface{}{"title": sp.title})
		}
		if err := plan(conn, models.KindProgram, p.ID, models.PlanIndividual, sp.individual); err != nil {
			fatal(log, err, "seed plan", map[string]interface{}{"program_id": p.ID})
		}
		for _, pt := range []string{models.PlanIndividual, models.PlanFamily} {
			sch, err := formschema.Parse([]byte(campSchema))
			if err != nil {
				fatal(log, err, "seed schema", nil)
			}
			if err := schemas.Put(ctx, p.ID, pt, sch); err != nil {
				fatal(log, err, "seed schema", map[string]interface{}{"program_id": p.ID})
			}
		}
		log.Info("seeded program", map[string]interface{}{"id": p.ID, "title": p.Title})
	}

	for i, title := range skills {
		var s models.Skill
		if err := conn.Where(models.Skill{Title: title}).FirstOrCreate(&s).Error; err != nil {
			fatal(log, err, "seed skill", map[string]interface{}{"title": title})
		}
		if err := plan(conn, models.KindSkill, s.ID, models.PlanIndividual, int64(5000*(i+1))); err != nil {
			fatal(log, err, "seed plan", map[string]interface{}{"skill_id": s.ID})
		}
		log.Info("seeded skill", map[string]interface{}{"id": s.ID, "title": s.Title})
	}
}

func fatal(log logger.Logger, err error, msg string, fields map[string]interface{}) {
	log.WithError(err).Error(msg, fields)
	os.Exit(1)
}

// plan inserts a price row once; later runs keep the existing amount.
func plan(conn *gorm.DB, kind string, id uint, planType string, amount int64) error {
	return conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.PlanPrice{
		EntityKind: kind,
		EntityID:   id,
		PlanType:   planType,
		Amount:     amount,
		Currency:   "NGN",
	}).Error
}
