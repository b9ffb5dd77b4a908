// Copyright 2025 TierFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStorage implements Storage using PostgreSQL
type PostgresStorage struct {
	db *sql.DB
}

// Ensure PostgresStorage implements Storage
var _ Storage = (*PostgresStorage)(nil)

// NewPostgresStorage creates a new PostgreSQL storage
func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// SaveInstance inserts or updates a saga instance. Steps are stored as
// a JSONB document since they are only ever read back whole.
func (s *PostgresStorage) SaveInstance(ctx context.Context, instance *Instance) error {
	if instance == nil {
		return fmt.Errorf("nil saga instance")
	}

	steps, err := json.Marshal(instance.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal saga steps: %w", err)
	}

	query := `
		INSERT INTO sagas (
			saga_id, name, tenant_id, user_id, steps,
			current_step_index, status, start_time, end_time, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (saga_id) DO UPDATE SET
			steps = EXCLUDED.steps,
			current_step_index = EXCLUDED.current_step_index,
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			error_message = EXCLUDED.error_message
	`

	_, err = s.db.ExecContext(ctx, query,
		instance.SagaID, instance.Name, instance.TenantID, instance.UserID,
		steps, instance.CurrentStepIndex, string(instance.Status),
		instance.StartTime, nullTime(instance.EndTime), nullStr(instance.Error))
	if err != nil {
		return fmt.Errorf("failed to save saga %s: %w", instance.SagaID, err)
	}
	return nil
}

// GetInstance loads one saga instance by ID.
func (s *PostgresStorage) GetInstance(ctx context.Context, sagaID string) (*Instance, error) {
	query := `
		SELECT saga_id, name, tenant_id, user_id, steps,
		       current_step_index, status, start_time, end_time, error_message
		FROM sagas
		WHERE saga_id = $1
	`

	var (
		instance Instance
		steps    []byte
		status   string
		endTime  sql.NullTime
		errMsg   sql.NullString
	)

	row := s.db.QueryRowContext(ctx, query, sagaID)
	err := row.Scan(&instance.SagaID, &instance.Name, &instance.TenantID,
		&instance.UserID, &steps, &instance.CurrentStepIndex, &status,
		&instance.StartTime, &endTime, &errMsg)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("saga not found: %s", sagaID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load saga %s: %w", sagaID, err)
	}

	if err := json.Unmarshal(steps, &instance.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal saga steps: %w", err)
	}
	instance.Status = Status(status)
	if endTime.Valid {
		t := endTime.Time
		instance.EndTime = &t
	}
	if errMsg.Valid {
		instance.Error = errMsg.String
	}
	return &instance, nil
}

// UpdateInstance writes the current instance state.
func (s *PostgresStorage) UpdateInstance(ctx context.Context, instance *Instance) error {
	return s.SaveInstance(ctx, instance)
}

func nullTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	return t
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
