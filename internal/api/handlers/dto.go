// dto.go — JSON-представления доменных моделей для HTTP API.
package handlers

import (
	"time"

	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/directory-sync/internal/service"
)

// syncRunResponse — запись журнала запусков.
type syncRunResponse struct {
	ID               string         `json:"id"`
	Type             string         `json:"type"`
	Status           string         `json:"status"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty"`
	TotalUsers       int            `json:"total_users"`
	SyncedUsers      int            `json:"synced_users"`
	CreatedUsers     int            `json:"created_users"`
	UpdatedUsers     int            `json:"updated_users"`
	DeactivatedUsers int            `json:"deactivated_users"`
	FailedUsers      int            `json:"failed_users"`
	ErrorSummary     *string        `json:"error_summary,omitempty"`
	InitiatedBy      string         `json:"initiated_by"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// failedRecordResponse — запись каталога, которую не удалось обработать.
type failedRecordResponse struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email,omitempty"`
	Error      string `json:"error"`
}

// syncResultResponse — ответ POST /api/v1/directory/sync.
type syncResultResponse struct {
	Run           syncRunResponse        `json:"run"`
	FailedRecords []failedRecordResponse `json:"failed_records"`
}

// runListResponse — ответ GET /api/v1/directory/runs.
type runListResponse struct {
	Items []syncRunResponse `json:"items"`
	Limit int               `json:"limit"`
}

// integrationStatusResponse — ответ GET /api/v1/directory/status.
type integrationStatusResponse struct {
	Available  bool             `json:"available"`
	Provider   string           `json:"provider"`
	LastStatus *string          `json:"last_status,omitempty"`
	LastRun    *syncRunResponse `json:"last_run,omitempty"`
}

// accountResponse — состояние аккаунта после синхронизации при входе.
type accountResponse struct {
	ID          string     `json:"id"`
	ExternalID  *string    `json:"external_id,omitempty"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Role        string     `json:"role"`
	ManagerID   *string    `json:"manager_id,omitempty"`
	Active      bool       `json:"active"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
}

// loginSyncResponse — ответ POST /api/v1/directory/login-sync.
type loginSyncResponse struct {
	Allowed  bool             `json:"allowed"`
	Rejected bool             `json:"rejected"`
	Degraded bool             `json:"degraded"`
	Reason   string           `json:"reason,omitempty"`
	Account  *accountResponse `json:"account,omitempty"`
}

func mapSyncRun(run *model.SyncRun) syncRunResponse {
	return syncRunResponse{
		ID:               run.ID,
		Type:             string(run.Type),
		Status:           string(run.Status),
		StartedAt:        run.StartedAt,
		FinishedAt:       run.FinishedAt,
		TotalUsers:       run.TotalUsers,
		SyncedUsers:      run.SyncedUsers,
		CreatedUsers:     run.CreatedUsers,
		UpdatedUsers:     run.UpdatedUsers,
		DeactivatedUsers: run.DeactivatedUsers,
		FailedUsers:      run.FailedUsers,
		ErrorSummary:     run.ErrorSummary,
		InitiatedBy:      run.InitiatedBy,
		Metadata:         run.Metadata,
	}
}

func mapSyncResult(res *model.SyncRunResult) syncResultResponse {
	resp := syncResultResponse{
		Run:           mapSyncRun(res.Run),
		FailedRecords: []failedRecordResponse{},
	}
	for _, rec := range res.Records {
		if rec.Action != model.ActionFailed {
			continue
		}
		item := failedRecordResponse{ExternalID: rec.ExternalID, Email: rec.Email}
		if rec.Err != nil {
			item.Error = rec.Err.Error()
		}
		resp.FailedRecords = append(resp.FailedRecords, item)
	}
	return resp
}

func mapIntegrationStatus(st *service.IntegrationStatus) integrationStatusResponse {
	resp := integrationStatusResponse{
		Available: st.Available,
		Provider:  st.Provider,
	}
	if st.LastRun != nil {
		run := mapSyncRun(st.LastRun)
		status := string(st.LastStatus)
		resp.LastRun = &run
		resp.LastStatus = &status
	}
	return resp
}

func mapLoginSync(res *model.LoginSyncResult) loginSyncResponse {
	resp := loginSyncResponse{
		Allowed:  !res.Rejected,
		Rejected: res.Rejected,
		Degraded: res.Degraded,
		Reason:   res.Reason,
	}
	if acc := res.Account; acc != nil {
		resp.Account = &accountResponse{
			ID:          acc.ID,
			ExternalID:  acc.ExternalID,
			Email:       acc.Email,
			DisplayName: acc.DisplayName,
			Role:        acc.Role,
			ManagerID:   acc.ManagerID,
			Active:      acc.Active,
			LastSyncAt:  acc.LastSyncAt,
		}
	}
	return resp
}
