package model

type FieldType int

const (
	FieldSignature FieldType = iota
	FieldDate
	FieldName
	FieldEmail
	FieldPhone
)

func (t FieldType) String() string {
	switch t {
	case FieldSignature:
		return "signature"
	case FieldDate:
		return "date"
	case FieldName:
		return "name"
	case FieldEmail:
		return "email"
	case FieldPhone:
		return "phone"
	default:
		return "unknown"
	}
}

const (
	TemplateVersion = "1.1"
	DefaultLocale   = "en-US"
)

// TaskConfig is the private half of a task. Field order is the hashing order.
type TaskConfig struct {
	FileName         string       `json:"fileName"`
	SenderMsg        string       `json:"senderMsg"`
	NotificantEmail  string       `json:"notificantEmail,omitempty"`
	NotificantLocale string       `json:"notificantLocale"`
	SignerInfoList   []SignerInfo `json:"signerInfoList"`
	Nonce            string       `json:"nonce"`
}

type SignerInfo struct {
	Name        string `json:"name" validate:"min=1,max=100"`
	EmailAddr   string `json:"emailAddr" validate:"required,email"`
	Locale      string `json:"locale" validate:"oneof=en-US zh-TW"`
	PhoneNumber string `json:"phoneNumber,omitempty" validate:"max=100"`
}

// TemplateInfo is the public half of a task: where each signer's fields go.
type TemplateInfo struct {
	Version    string         `json:"version" validate:"eq=1.1"`
	SignerList []SignerFields `json:"signerList" validate:"min=1,dive"`
}

type SignerFields struct {
	FieldList []Field `json:"fieldList" validate:"min=1,dive"`
}

// Field coordinates are in PDF points with y measured from the page top.
type Field struct {
	PageNo int       `json:"pageNo" validate:"gte=1"`
	X      float64   `json:"x" validate:"gte=0"`
	Y      float64   `json:"y" validate:"gte=0"`
	Height float64   `json:"height" validate:"gte=12,lte=64"`
	Type   FieldType `json:"type" validate:"gte=0,lte=4"`
}

// TaskInput is the caller-facing task description.
type TaskInput struct {
	Options        TaskOptions  `json:"options"`
	SignerInfoList []SignerInfo `json:"signerInfoList" validate:"min=1,dive"`
}

type TaskOptions struct {
	InOrder          bool   `json:"inOrder"`
	SenderMsg        string `json:"senderMsg" validate:"max=1000"`
	NotificantEmail  string `json:"notificantEmail,omitempty" validate:"omitempty,email"`
	NotificantLocale string `json:"notificantLocale,omitempty" validate:"omitempty,oneof=en-US zh-TW"`
}

type FieldInput struct {
	SignerNo  int   `json:"signerNo" validate:"gte=0"`
	FieldInfo Field `json:"fieldInfo"`
}

// LimitConfig is fetched from the remote service for every top-level call.
// EnablePhoneNo is nil when the service does not state it.
type LimitConfig struct {
	MaxSignerNumber         int   `json:"maxSignerNumber"`
	MaxBulkSendSignerNumber int   `json:"maxBulkSendSignerNumber"`
	MaxFieldPerType         int   `json:"maxFieldPerType"`
	MaxFileSizeInMb         int   `json:"maxFileSizeInMb"`
	EnablePhoneNo           *bool `json:"enablePhoneNo,omitempty"`
}

// NewTaskConfig assembles the hashed task config, defaulting the notificant locale.
func NewTaskConfig(fileName string, opts TaskOptions, signers []SignerInfo, nonce string) TaskConfig {
	locale := opts.NotificantLocale
	if locale == "" {
		locale = DefaultLocale
	}
	list := make([]SignerInfo, len(signers))
	copy(list, signers)
	return TaskConfig{
		FileName:         fileName,
		SenderMsg:        opts.SenderMsg,
		NotificantEmail:  opts.NotificantEmail,
		NotificantLocale: locale,
		SignerInfoList:   list,
		Nonce:            nonce,
	}
}
