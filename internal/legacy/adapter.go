package legacy

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/shared/config"
	"github.com/praxia-health/platform/internal/shared/types"
)

// Adapter reads the legacy assignment and autonomy tables over SQL Server.
type Adapter struct {
	db     *sql.DB
	config Config
}

// New connects to the legacy database
func New(cfg config.LegacyDatabaseConfig, tables Config) (*Adapter, error) {
	db, err := sql.Open("sqlserver", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	return &Adapter{db: db, config: tables}, nil
}

// Close closes the legacy database connection
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Health checks the legacy database connection
func (a *Adapter) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Assignment returns the subordinate's manager assignment; nil when the user
// was never assigned in the legacy model.
func (a *Adapter) Assignment(ctx context.Context, subordinateID types.ID) (*TherapistAssignment, error) {
	query := fmt.Sprintf(
		`SELECT ManagerId, SubordinateId FROM %s WHERE SubordinateId = @p1`,
		a.config.AssignmentTable)

	assignment := &TherapistAssignment{}
	err := a.db.QueryRowContext(ctx, query, subordinateID.String()).Scan(
		&assignment.ManagerID, &assignment.SubordinateID,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy assignment: %w", err)
	}

	return assignment, nil
}

// ManagerOf returns the legacy manager of a subordinate
func (a *Adapter) ManagerOf(ctx context.Context, userID types.ID) (types.ID, bool, error) {
	assignment, err := a.Assignment(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if assignment == nil {
		return "", false, nil
	}
	return assignment.ManagerID, true, nil
}

// IsManager reports whether the user appears as a manager in the legacy model
func (a *Adapter) IsManager(ctx context.Context, userID types.ID) (bool, error) {
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE ManagerId = @p1`,
		a.config.AssignmentTable)

	var count int
	if err := a.db.QueryRowContext(ctx, query, userID.String()).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count legacy subordinates: %w", err)
	}
	return count > 0, nil
}

// Autonomy returns the subordinate's autonomy settings; nil when absent.
func (a *Adapter) Autonomy(ctx context.Context, userID types.ID) (*AutonomySettings, error) {
	query := fmt.Sprintf(
		`SELECT SubordinateId, ManagesOwnPatients, HasFinancialAccess, NfseEmissionMode
		 FROM %s WHERE SubordinateId = @p1`,
		a.config.AutonomyTable)

	settings := &AutonomySettings{}
	var mode string
	err := a.db.QueryRowContext(ctx, query, userID.String()).Scan(
		&settings.SubordinateID,
		&settings.ManagesOwnPatients,
		&settings.HasFinancialAccess,
		&mode,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy autonomy settings: %w", err)
	}

	parsed, err := access.ParseEmissionMode(mode)
	if err != nil {
		// Old rows predate the manager_company feature.
		parsed = access.EmitOwnCompany
	}
	settings.EmissionMode = parsed

	return settings, nil
}

// HasRecord reports whether the user appears anywhere in the legacy model,
// as a manager or a subordinate.
func (a *Adapter) HasRecord(ctx context.Context, userID types.ID) (bool, error) {
	assignment, err := a.Assignment(ctx, userID)
	if err != nil {
		return false, err
	}
	if assignment != nil {
		return true, nil
	}

	isManager, err := a.IsManager(ctx, userID)
	if err != nil {
		return false, err
	}
	if isManager {
		return true, nil
	}

	settings, err := a.Autonomy(ctx, userID)
	if err != nil {
		return false, err
	}
	return settings != nil, nil
}

// HasFiscalIdentity reports whether the user registered a company in the
// legacy model.
func (a *Adapter) HasFiscalIdentity(ctx context.Context, userID types.ID) (bool, error) {
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE UserId = @p1 AND Cnpj IS NOT NULL`,
		a.config.FiscalTable)

	var count int
	if err := a.db.QueryRowContext(ctx, query, userID.String()).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check legacy fiscal identity: %w", err)
	}
	return count > 0, nil
}

// DeleteUserRows removes the user's legacy assignment and autonomy rows.
// Only the migration coordinator's retire step calls this.
func (a *Adapter) DeleteUserRows(ctx context.Context, userID types.ID) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin legacy transaction: %w", err)
	}

	assignmentDelete := fmt.Sprintf(`DELETE FROM %s WHERE SubordinateId = @p1`, a.config.AssignmentTable)
	if _, err := tx.ExecContext(ctx, assignmentDelete, userID.String()); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete legacy assignment: %w", err)
	}

	autonomyDelete := fmt.Sprintf(`DELETE FROM %s WHERE SubordinateId = @p1`, a.config.AutonomyTable)
	if _, err := tx.ExecContext(ctx, autonomyDelete, userID.String()); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete legacy autonomy settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit legacy deletes: %w", err)
	}

	return nil
}

// GetLegacyAccess resolves a user's access to a domain from the legacy model
// alone. Managers hold full access everywhere; subordinates go through the
// same cascade the hierarchy model uses, fed by the autonomy flags.
func (a *Adapter) GetLegacyAccess(ctx context.Context, userID types.ID, domain access.Domain) (access.Level, error) {
	isManager, err := a.IsManager(ctx, userID)
	if err != nil {
		return access.LevelNone, err
	}
	if isManager {
		return access.LevelFull, nil
	}

	settings, err := a.Autonomy(ctx, userID)
	if err != nil {
		return access.LevelNone, err
	}
	if settings == nil {
		// Assigned but without an autonomy row: the most restrictive flags.
		assignment, err := a.Assignment(ctx, userID)
		if err != nil {
			return access.LevelNone, err
		}
		if assignment == nil {
			return access.LevelNone, nil
		}
		return access.Cascade(access.Autonomy{}, domain), nil
	}

	return access.Cascade(settings.Autonomy(), domain), nil
}
