package db

import (
	"fmt"
	stdlog "log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/envutil"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(baseLog *logger.Logger) (*PostgresService, error) {
	serviceLog := baseLog.With("service", "PostgresService")

	host := envutil.Str("POSTGRES_HOST", "localhost")
	port := envutil.Str("POSTGRES_PORT", "5432")
	user := envutil.Str("POSTGRES_USER", "postgres")
	password := envutil.Str("POSTGRES_PASSWORD", "")
	name := envutil.Str("POSTGRES_NAME", "peerreview")
	sslMode := envutil.Str("POSTGRES_SSLMODE", "disable")

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode,
	)

	gormLog := gormLogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	serviceLog.Info("Connecting to Postgres", "host", host, "db", name)

	// Connect through the pgx stdlib driver so pool limits are set on the
	// *sql.DB before gorm sees it.
	pgxCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	sqlDB := stdlib.OpenDB(*pgxCfg)
	sqlDB.SetMaxOpenConns(envutil.Int("POSTGRES_MAX_OPEN_CONNS", 25))
	sqlDB.SetMaxIdleConns(envutil.Int("POSTGRES_MAX_IDLE_CONNS", 5))
	sqlDB.SetConnMaxLifetime(envutil.Duration("POSTGRES_CONN_MAX_LIFETIME", time.Hour))

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.User{},
		&types.UserToken{},
		&types.Organization{},
		&types.Membership{},
		&types.Questionnaire{},
		&types.QuestionnaireDomain{},
		&types.Question{},
		&types.SelfAssessment{},
		&types.AssessmentAnswer{},
		&types.PeerReview{},
		&types.ReviewTeamMember{},
		&types.Finding{},
		&types.CorrectiveAction{},
		&types.Notification{},
		&types.ReportRun{},
		&types.SyncOperation{},
		&types.JobRun{},
		&types.JobRunEvent{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	s.log.Info("Configuring foreign key relationships for postgres tables...")
	for _, fk := range foreignKeys {
		if err := s.addForeignKey(fk); err != nil {
			return err
		}
	}
	return nil
}

type foreignKey struct {
	name     string
	table    string
	column   string
	refTable string
	onDelete string
}

var foreignKeys = []foreignKey{
	{"fk_user_token_user_id", "user_token", "user_id", "user", "CASCADE"},
	{"fk_membership_user_id", "membership", "user_id", "user", "CASCADE"},
	{"fk_membership_organization_id", "membership", "organization_id", "organization", "CASCADE"},
	{"fk_questionnaire_domain_questionnaire_id", "questionnaire_domain", "questionnaire_id", "questionnaire", "CASCADE"},
	{"fk_question_domain_id", "question", "domain_id", "questionnaire_domain", "CASCADE"},
	{"fk_self_assessment_organization_id", "self_assessment", "organization_id", "organization", "CASCADE"},
	{"fk_self_assessment_questionnaire_id", "self_assessment", "questionnaire_id", "questionnaire", "RESTRICT"},
	{"fk_assessment_answer_assessment_id", "assessment_answer", "assessment_id", "self_assessment", "CASCADE"},
	{"fk_assessment_answer_question_id", "assessment_answer", "question_id", "question", "CASCADE"},
	{"fk_peer_review_host_organization_id", "peer_review", "host_organization_id", "organization", "RESTRICT"},
	{"fk_peer_review_questionnaire_id", "peer_review", "questionnaire_id", "questionnaire", "RESTRICT"},
	{"fk_review_team_member_review_id", "review_team_member", "review_id", "peer_review", "CASCADE"},
	{"fk_review_team_member_user_id", "review_team_member", "user_id", "user", "CASCADE"},
	{"fk_review_team_member_organization_id", "review_team_member", "organization_id", "organization", "CASCADE"},
	{"fk_finding_review_id", "finding", "review_id", "peer_review", "CASCADE"},
	{"fk_corrective_action_finding_id", "corrective_action", "finding_id", "finding", "CASCADE"},
	{"fk_notification_user_id", "notification", "user_id", "user", "CASCADE"},
	{"fk_report_run_review_id", "report_run", "review_id", "peer_review", "CASCADE"},
	{"fk_sync_operation_user_id", "sync_operation", "user_id", "user", "CASCADE"},
	{"fk_sync_operation_review_id", "sync_operation", "review_id", "peer_review", "CASCADE"},
	{"fk_job_run_event_job_id", "job_run_event", "job_id", "job_run", "CASCADE"},
}

// addForeignKey is idempotent so AutoMigrateAll can run on every boot.
func (s *PostgresService) addForeignKey(fk foreignKey) error {
	var count int64
	if err := s.db.Raw(
		`SELECT COUNT(1) FROM pg_constraint WHERE conname = ?`, fk.name,
	).Scan(&count).Error; err != nil {
		return fmt.Errorf("failed to check constraint %s: %w", fk.name, err)
	}
	if count > 0 {
		return nil
	}
	stmt := fmt.Sprintf(
		`ALTER TABLE %q ADD CONSTRAINT %q FOREIGN KEY (%q) REFERENCES %q("id") ON DELETE %s`,
		fk.table, fk.name, fk.column, fk.refTable, fk.onDelete,
	)
	if err := s.db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("failed to add %s: %w", fk.name, err)
	}
	return nil
}
