package postgres

import (
	"context"
	"encoding/json"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
)

// Append writes rec to operation_logs.
func (s *Store) Append(ctx context.Context, rec schoolauth.AuditRecord) error {
	params, err := json.Marshal(rec.SanitizedParams)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into operation_logs(
			id, user_id, module, action, operation_type, resource_type, resource_id,
			description, request_method, request_url, request_params, ip_address,
			user_agent, operation_result, result_message, status_code, execution_time, created_at
		) values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		rec.ID, nullable(rec.UserID), rec.Module, rec.Action, string(rec.OperationType), rec.ResourceType,
		nullable(rec.ResourceID), rec.Description, rec.RequestMethod, rec.RequestURL, params, rec.IP,
		rec.UserAgent, string(rec.Result), rec.ResultMessage, rec.StatusCode, rec.ExecutionTimeMs, rec.CreatedAt,
	)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
