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

package tools

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"tierflow/platform/config"
	"tierflow/platform/resilience"
)

// pgRequest is the payload an executing saga or agent sends to a
// postgres tool.
type pgRequest struct {
	Statement string        `json:"statement"`
	Args      []interface{} `json:"args,omitempty"`
	Query     bool          `json:"query,omitempty"`
}

// PostgresTool runs statements against one PostgreSQL database.
type PostgresTool struct {
	name string
	db   *sql.DB
}

// NewPostgresTool opens a pooled connection to cfg.Endpoint (a DSN).
func NewPostgresTool(ctx context.Context, cfg config.ToolConfig) (*PostgresTool, error) {
	db, err := sql.Open("postgres", cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresTool{name: cfg.Name, db: db}, nil
}

// NewPostgresToolFromDB wraps an existing database handle.
func NewPostgresToolFromDB(name string, db *sql.DB) *PostgresTool {
	return &PostgresTool{name: name, db: db}
}

func (t *PostgresTool) Name() string { return t.name }
func (t *PostgresTool) Type() string { return "postgres" }

func (t *PostgresTool) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	var req pgRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, resilience.NewNonRetryable(t.name, 400, fmt.Errorf("invalid payload: %w", err))
	}
	if req.Statement == "" {
		return nil, resilience.NewNonRetryable(t.name, 400, errors.New("statement is required"))
	}

	if req.Query {
		return t.query(ctx, req)
	}
	return t.exec(ctx, req)
}

func (t *PostgresTool) exec(ctx context.Context, req pgRequest) ([]byte, error) {
	res, err := t.db.ExecContext(ctx, req.Statement, req.Args...)
	if err != nil {
		return nil, t.classify(err)
	}
	affected, _ := res.RowsAffected()
	return json.Marshal(map[string]interface{}{
		"rows_affected": affected,
	})
}

func (t *PostgresTool) query(ctx context.Context, req pgRequest) ([]byte, error) {
	rows, err := t.db.QueryContext(ctx, req.Statement, req.Args...)
	if err != nil {
		return nil, t.classify(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, t.classify(err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, t.classify(err)
		}

		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, t.classify(err)
	}

	return json.Marshal(map[string]interface{}{
		"rows":      out,
		"row_count": len(out),
	})
}

// classify maps database faults onto the retryability taxonomy.
// Connection-level failures are transient; statement errors are not.
func (t *PostgresTool) classify(err error) error {
	if errors.Is(err, driver.ErrBadConn) || isConnectionFault(err) {
		return resilience.NewRetryable(t.name, 503, err)
	}
	return resilience.NewNonRetryable(t.name, 400, err)
}

func isConnectionFault(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"the database system is starting up",
		"too many connections",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (t *PostgresTool) HealthCheck(ctx context.Context) error {
	return t.db.PingContext(ctx)
}

func (t *PostgresTool) Close() error {
	return t.db.Close()
}
