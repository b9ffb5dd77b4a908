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
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStorageSaveInstance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	instance := sampleInstance("saga-1")
	instance.StartTime = time.Now()

	mock.ExpectExec("INSERT INTO sagas").
		WithArgs("saga-1", "order", "tenant-1", "user-1", sqlmock.AnyArg(),
			0, "RUNNING", instance.StartTime, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresStorage(db)
	require.NoError(t, s.SaveInstance(context.Background(), instance))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorageSaveNilInstance(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStorage(db)
	assert.Error(t, s.SaveInstance(context.Background(), nil))
}

func TestPostgresStorageGetInstance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	steps, err := json.Marshal([]StepState{
		{Step: Step{Name: "payment"}, Status: StepCompleted},
	})
	require.NoError(t, err)

	started := time.Now().Add(-time.Minute)
	ended := time.Now()
	rows := sqlmock.NewRows([]string{
		"saga_id", "name", "tenant_id", "user_id", "steps",
		"current_step_index", "status", "start_time", "end_time", "error_message",
	}).AddRow("saga-1", "order", "tenant-1", "user-1", steps,
		0, "FAILED", started, ended, "step failed")

	mock.ExpectQuery("SELECT (.+) FROM sagas").
		WithArgs("saga-1").
		WillReturnRows(rows)

	s := NewPostgresStorage(db)
	got, err := s.GetInstance(context.Background(), "saga-1")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "step failed", got.Error)
	require.NotNil(t, got.EndTime)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, StepCompleted, got.Steps[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorageGetInstanceNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM sagas").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"saga_id", "name", "tenant_id", "user_id", "steps",
			"current_step_index", "status", "start_time", "end_time", "error_message",
		}))

	s := NewPostgresStorage(db)
	_, err = s.GetInstance(context.Background(), "missing")
	assert.ErrorContains(t, err, "saga not found")
}
