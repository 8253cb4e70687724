package errors

import (
	"errors"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	"github.com/dl-alexandre/mrisync/internal/utils"
)

// ClassifyAWSError converts an S3 SDK error into a *utils.AppError.
// The SDK has already retried; Retryable reports whether a later run may
// still succeed.
func ClassifyAWSError(op string, err error) *utils.AppError {
	status := 0
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	apiCode := ""
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		apiCode = apiErr.ErrorCode()
	}

	code, retryable := utils.ErrCodeUnknown, false
	switch {
	case apiCode == "NoSuchKey" || apiCode == "NotFound" || apiCode == "NoSuchBucket" || status == http.StatusNotFound:
		code = utils.ErrCodeFileNotFound
	case apiCode == "AccessDenied" || apiCode == "InvalidAccessKeyId" || apiCode == "SignatureDoesNotMatch" || status == http.StatusForbidden:
		code = utils.ErrCodePermissionDenied
	case apiCode == "ExpiredToken":
		code = utils.ErrCodeAuthExpired
	case apiCode == "SlowDown" || status == http.StatusTooManyRequests:
		code, retryable = utils.ErrCodeRateLimited, true
	case apiCode == "RequestTimeout" || status == http.StatusRequestTimeout:
		code, retryable = utils.ErrCodeTimeout, true
	case status >= 500:
		code, retryable = utils.ErrCodeNetworkError, true
	case status == http.StatusBadRequest:
		code = utils.ErrCodeInvalidArgument
	case status == 0 && apiCode == "":
		code, retryable = utils.ErrCodeNetworkError, true
	}

	builder := utils.NewCLIError(code, err.Error()).
		WithRetryable(retryable).
		WithContext("service", "s3").
		WithContext("operation", op)
	if status != 0 {
		builder.WithHTTPStatus(status)
	}
	if apiCode != "" {
		builder.WithContext("awsCode", apiCode)
	}
	return utils.WrapAppError(builder.Build(), err)
}
