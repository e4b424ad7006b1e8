package model

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
)

// SendParams, BulkSendParams and TemplateFile are the validated shapes of the
// caller's requests. Their json tags name the paths reported in errors.
type SendParams struct {
	TaskConfig  TaskInput    `json:"taskConfig"`
	FieldList   []FieldInput `json:"fieldList" validate:"min=1,dive"`
	PDFFileName string       `json:"pdfFileName" validate:"min=1,max=100"`
}

type BulkSendParams struct {
	TaskConfig  TaskInput    `json:"taskConfig"`
	FieldList   []FieldInput `json:"fieldList" validate:"min=1,dive"`
	PDFFileName string       `json:"pdfFileName" validate:"min=1,max=100"`
	SignerNo    int          `json:"signerNo" validate:"gte=0"`
}

type TemplateSendParams struct {
	TaskConfig TaskInput `json:"taskConfig"`
	SignerNo   int       `json:"signerNo" validate:"gte=0"`
}

type CreateTemplateParams struct {
	FieldList   []FieldInput `json:"fieldList" validate:"min=1,dive"`
	PDFFileName string       `json:"pdfFileName" validate:"min=1,max=100"`
}

type TemplateFile struct {
	PDFFileName  string       `json:"pdfFileName" validate:"min=1,max=100"`
	TemplateInfo TemplateInfo `json:"templateInfo"`
}

type TaskIDParams struct {
	TaskID string `json:"taskID" validate:"min=20"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
	indexRe      = regexp.MustCompile(`\[(\d+)\]`)
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks params against their struct tags and reports the first
// violation as "Invalid parameter: <path> <message>".
func Validate(params any) *apperr.Error {
	err := validatorInstance().Struct(params)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Internal(fmt.Errorf("validate params: %w", err))
	}
	fe := verrs[0]
	path, index := fieldPath(fe.Namespace())
	if fe.Tag() == "required" {
		parent := path
		if i := strings.LastIndex(path, "."); i >= 0 {
			parent = path[:i]
		} else {
			parent = "instance"
		}
		return apperr.CallerInput(apperr.CodeInvalidParams, index, "Invalid parameter: %s requires property %q", parent, fe.Field())
	}
	return apperr.CallerInput(apperr.CodeInvalidParams, index, "Invalid parameter: %s %s", path, describe(fe))
}

// fieldPath turns "SendParams.taskConfig.signerInfoList[2].name" into
// "taskConfig.signerInfoList.2.name" and returns the first list index seen.
func fieldPath(ns string) (string, int) {
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	index := -1
	if m := indexRe.FindStringSubmatch(ns); m != nil {
		index, _ = strconv.Atoi(m[1])
	}
	return indexRe.ReplaceAllString(ns, ".$1"), index
}

func describe(fe validator.FieldError) string {
	isText := fe.Kind() == reflect.String || fe.Kind() == reflect.Slice
	switch fe.Tag() {
	case "min":
		if isText {
			return "does not meet minimum length of " + fe.Param()
		}
		return "must be greater than or equal to " + fe.Param()
	case "max":
		if isText {
			return "does not meet maximum length of " + fe.Param()
		}
		return "must be less than or equal to " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "email":
		return `does not conform to the "email" format`
	case "oneof", "eq":
		return "is not one of enum values: " + strings.Join(strings.Fields(fe.Param()), ",")
	default:
		return "is invalid"
	}
}
