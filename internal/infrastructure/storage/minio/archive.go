package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/karin-compliance/internal/application/risk"
	"github.com/turtacn/karin-compliance/internal/domain/compliance"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

const (
	evaluationPrefix = "evaluations"
	unassignedCase   = "_unassigned"
	contentTypeJSON  = "application/json"
)

// EvaluationArchive writes one immutable JSON object per analysis under
// evaluations/<case>/<analysis>.json.
type EvaluationArchive struct {
	client *Client
}

var _ risk.AuditArchive = (*EvaluationArchive)(nil)

// NewEvaluationArchive returns an archive in client's bucket.
func NewEvaluationArchive(client *Client) *EvaluationArchive {
	return &EvaluationArchive{client: client}
}

// EvaluationKey returns the object key for an analysis.
func EvaluationKey(caseID, analysisID string) string {
	if caseID == "" {
		caseID = unassignedCase
	}
	return path.Join(evaluationPrefix, caseID, analysisID+".json")
}

// StoreEvaluation archives res and returns its key.
func (a *EvaluationArchive) StoreEvaluation(ctx context.Context, res compliance.UnifiedRiskResult) (string, error) {
	if res.AnalysisID == "" {
		return "", errors.Validation("analysis id is required")
	}
	api, err := a.client.API()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal evaluation")
	}

	key := EvaluationKey(res.CaseID, res.AnalysisID)
	_, err = api.PutObject(ctx, a.client.Bucket(), key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentTypeJSON,
		UserMetadata: map[string]string{
			"analysis-id":   res.AnalysisID,
			"unified-level": string(res.UnifiedLevel),
			"degraded":      boolString(res.Degraded()),
		},
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeStorageError, "failed to archive evaluation").WithDetail(key)
	}
	return key, nil
}

// GetEvaluation reads back an archived evaluation.
func (a *EvaluationArchive) GetEvaluation(ctx context.Context, caseID, analysisID string) (*compliance.UnifiedRiskResult, error) {
	api, err := a.client.API()
	if err != nil {
		return nil, err
	}
	key := EvaluationKey(caseID, analysisID)
	if _, err := api.StatObject(ctx, a.client.Bucket(), key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, ErrObjectNotFound.WithDetail(key)
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to stat evaluation").WithDetail(key)
	}
	rc, err := api.GetObject(ctx, a.client.Bucket(), key)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to read evaluation").WithDetail(key)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to read evaluation").WithDetail(key)
	}
	var res compliance.UnifiedRiskResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "archived evaluation is not valid json").WithDetail(key)
	}
	return &res, nil
}

// ListEvaluations returns the analysis IDs archived for a case, sorted.
func (a *EvaluationArchive) ListEvaluations(ctx context.Context, caseID string) ([]string, error) {
	api, err := a.client.API()
	if err != nil {
		return nil, err
	}
	if caseID == "" {
		caseID = unassignedCase
	}
	prefix := path.Join(evaluationPrefix, caseID) + "/"
	var ids []string
	for obj := range api.ListObjects(ctx, a.client.Bucket(), minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.ErrCodeStorageError, "failed to list evaluations").WithDetail(caseID)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
