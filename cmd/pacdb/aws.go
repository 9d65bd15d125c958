package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/epithet-ssh/pacdb/pkg/config"
	"github.com/epithet-ssh/pacdb/pkg/fetch"
	"github.com/epithet-ssh/pacdb/pkg/server"
)

type AWSCLI struct {
	Serve AwsServeCLI `cmd:"serve" help:"Serve repositories as an AWS Lambda function"`
}

type AwsServeCLI struct {
	ConfigParameter string `help:"SSM Parameter Store parameter holding the pacdb configuration" env:"PACDB_CONFIG_PARAMETER" required:"true"`
}

func (a *AwsServeCLI) Run(logger *slog.Logger, tlsCfg fetch.TLSConfig, lv *logLevel) error {
	logger.Info("starting Lambda handler", "parameter_name", a.ConfigParameter)
	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	cfg, err := config.LoadFromSSM(ctx, ssm.NewFromConfig(awsCfg), a.ConfigParameter)
	if err != nil {
		return err
	}
	lv.apply(cfg.Level())
	logger.Info("loaded configuration from SSM Parameter Store", "repos", len(cfg.Repos))

	app, err := buildApp(ctx, cfg, tlsCfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	// A cold start loads everything; warm invocations reuse the index.
	if err := app.repos.ReloadAll(ctx); err != nil {
		logger.Warn("initial load failed", "error", err)
	}

	handler := server.New(server.Config{Repos: app.repos, Logger: logger})

	logger.Info("Lambda initialized successfully")

	lambda.Start(func(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return handleLambdaRequest(ctx, request, handler, logger)
	})

	return nil
}

func handleLambdaRequest(ctx context.Context, request events.APIGatewayV2HTTPRequest, handler http.Handler, logger *slog.Logger) (events.APIGatewayV2HTTPResponse, error) {
	target := request.RawPath
	if request.RawQueryString != "" {
		target += "?" + request.RawQueryString
	}

	req, err := http.NewRequestWithContext(ctx, request.RequestContext.HTTP.Method, target, nil)
	if err != nil {
		logger.Error("failed to create request", "error", err)
		return events.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       "Internal server error",
		}, nil
	}

	for k, v := range request.Headers {
		req.Header.Set(k, v)
	}
	if ip := request.RequestContext.HTTP.SourceIP; ip != "" {
		req.RemoteAddr = ip
	}

	if request.Body != "" {
		body := request.Body
		if request.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(body)
			if err != nil {
				return events.APIGatewayV2HTTPResponse{
					StatusCode: http.StatusBadRequest,
					Body:       "Invalid request body",
				}, nil
			}
			body = string(decoded)
		}
		req.Body = io.NopCloser(strings.NewReader(body))
		req.ContentLength = int64(len(body))
	}

	rw := &lambdaResponseWriter{
		headers: make(http.Header),
	}

	handler.ServeHTTP(rw, req)

	if rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}

	headers := make(map[string]string)
	for k, v := range rw.headers {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	resp := events.APIGatewayV2HTTPResponse{
		StatusCode: rw.statusCode,
		Headers:    headers,
	}
	if isText(rw.headers.Get("Content-Type")) {
		resp.Body = string(rw.body)
	} else {
		resp.Body = base64.StdEncoding.EncodeToString(rw.body)
		resp.IsBase64Encoded = true
	}
	return resp, nil
}

// isText reports whether a body can be returned to API Gateway unencoded.
func isText(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "text/") || mt == "application/json"
}

// lambdaResponseWriter implements http.ResponseWriter for Lambda
type lambdaResponseWriter struct {
	headers    http.Header
	body       []byte
	statusCode int
}

func (w *lambdaResponseWriter) Header() http.Header {
	return w.headers
}

func (w *lambdaResponseWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	return len(b), nil
}

func (w *lambdaResponseWriter) WriteHeader(statusCode int) {
	if w.statusCode == 0 {
		w.statusCode = statusCode
	}
}
