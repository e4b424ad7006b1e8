package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
)

func validSendParams() SendParams {
	return SendParams{
		TaskConfig: TaskInput{
			Options: TaskOptions{InOrder: true, SenderMsg: "please sign", NotificantEmail: "boss@example.com"},
			SignerInfoList: []SignerInfo{
				{Name: "Alice", EmailAddr: "alice@example.com", Locale: "en-US"},
				{Name: "Bob", EmailAddr: "bob@example.com", Locale: "zh-TW", PhoneNumber: "+886912345678"},
			},
		},
		FieldList: []FieldInput{
			{SignerNo: 0, FieldInfo: Field{PageNo: 1, X: 50, Y: 50, Height: 20, Type: FieldSignature}},
			{SignerNo: 1, FieldInfo: Field{PageNo: 1, X: 50, Y: 100, Height: 20, Type: FieldSignature}},
		},
		PDFFileName: "contract.pdf",
	}
}

func TestValidateAcceptsWellFormedParams(t *testing.T) {
	assert.Nil(t, Validate(validSendParams()))
}

func TestValidateReportsPaths(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SendParams)
		msg    string
		index  int
	}{
		{
			name:   "empty signer name",
			mutate: func(p *SendParams) { p.TaskConfig.SignerInfoList[1].Name = "" },
			msg:    "Invalid parameter: taskConfig.signerInfoList.1.name does not meet minimum length of 1",
			index:  1,
		},
		{
			name:   "bad locale",
			mutate: func(p *SendParams) { p.TaskConfig.SignerInfoList[0].Locale = "fr-FR" },
			msg:    "Invalid parameter: taskConfig.signerInfoList.0.locale is not one of enum values: en-US,zh-TW",
			index:  0,
		},
		{
			name:   "bad notificant email",
			mutate: func(p *SendParams) { p.TaskConfig.Options.NotificantEmail = "nope" },
			msg:    `Invalid parameter: taskConfig.options.notificantEmail does not conform to the "email" format`,
			index:  -1,
		},
		{
			name:   "field too small",
			mutate: func(p *SendParams) { p.FieldList[1].FieldInfo.Height = 8 },
			msg:    "Invalid parameter: fieldList.1.fieldInfo.height must be greater than or equal to 12",
			index:  1,
		},
		{
			name:   "unknown field type",
			mutate: func(p *SendParams) { p.FieldList[0].FieldInfo.Type = 7 },
			msg:    "Invalid parameter: fieldList.0.fieldInfo.type must be less than or equal to 4",
			index:  0,
		},
		{
			name:   "empty field list",
			mutate: func(p *SendParams) { p.FieldList = nil },
			msg:    "Invalid parameter: fieldList does not meet minimum length of 1",
			index:  -1,
		},
		{
			name:   "missing file name",
			mutate: func(p *SendParams) { p.PDFFileName = "" },
			msg:    "Invalid parameter: pdfFileName does not meet minimum length of 1",
			index:  -1,
		},
		{
			name:   "missing email",
			mutate: func(p *SendParams) { p.TaskConfig.SignerInfoList[0].EmailAddr = "" },
			msg:    `Invalid parameter: taskConfig.signerInfoList.0 requires property "emailAddr"`,
			index:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validSendParams()
			tt.mutate(&p)
			err := Validate(p)
			require.NotNil(t, err)
			assert.Equal(t, apperr.KindCallerInput, err.Kind)
			assert.Equal(t, tt.msg, err.Message)
			assert.Equal(t, tt.index, err.Index)
		})
	}
}

func TestValidateTemplateFile(t *testing.T) {
	tf := TemplateFile{
		PDFFileName: "a.pdf",
		TemplateInfo: TemplateInfo{
			Version:    "1.0",
			SignerList: []SignerFields{{FieldList: []Field{{PageNo: 1, Height: 20}}}},
		},
	}
	err := Validate(tf)
	require.NotNil(t, err)
	assert.Contains(t, err.Message, "templateInfo.version")

	tf.TemplateInfo.Version = TemplateVersion
	assert.Nil(t, Validate(tf))
}

func TestCheckPhoneNumbers(t *testing.T) {
	signers := []SignerInfo{
		{Name: "A", PhoneNumber: "+442071838750"},
		{Name: "B"},
		{Name: "C", PhoneNumber: "12345"},
	}
	err := CheckPhoneNumbers(signers)
	require.NotNil(t, err)
	assert.Equal(t, apperr.CodePhoneNumberCheckFail, err.Code)
	assert.Equal(t, 2, err.Index)
	assert.Equal(t, "Invalid parameter: taskConfig.signerInfoList.2.phoneNumber is not a valid phone number format", err.Message)

	assert.Nil(t, CheckPhoneNumbers(signers[:2]))
}

func TestBuildTemplateInfo(t *testing.T) {
	p := validSendParams()
	ti, err := BuildTemplateInfo(p.FieldList, 2)
	require.Nil(t, err)
	assert.Equal(t, TemplateVersion, ti.Version)
	require.Len(t, ti.SignerList, 2)
	assert.Len(t, ti.SignerList[0].FieldList, 1)

	_, err = BuildTemplateInfo(p.FieldList, 1)
	require.NotNil(t, err)
	assert.Equal(t, "Invalid parameter: fieldList.1.signerNo is out of range", err.Message)

	p.FieldList[1].FieldInfo.Type = FieldName
	_, err = BuildTemplateInfo(p.FieldList, 2)
	require.NotNil(t, err)
	assert.Equal(t, apperr.CodeMissingSignatureField, err.Code)
	assert.Equal(t, "Invalid parameter: the No. 1 signer requires at least one signature field", err.Message)
}

func TestBuildBulkTemplateInfo(t *testing.T) {
	_, err := BuildBulkTemplateInfo([]FieldInput{{FieldInfo: Field{PageNo: 1, Height: 20, Type: FieldEmail}}})
	require.NotNil(t, err)
	assert.Equal(t, "Invalid parameter: bulk signers require at least one signature field", err.Message)

	ti, err := BuildBulkTemplateInfo(validSendParams().FieldList)
	require.Nil(t, err)
	require.Len(t, ti.SignerList, 1)
	assert.Len(t, ti.SignerList[0].FieldList, 2)
}

func TestCheckLimits(t *testing.T) {
	no := false
	lc := LimitConfig{MaxSignerNumber: 2, MaxBulkSendSignerNumber: 3, MaxFieldPerType: 1, MaxFileSizeInMb: 1}
	signers := validSendParams().TaskConfig.SignerInfoList
	fields := []SignerFields{
		{FieldList: []Field{{Type: FieldSignature}}},
		{FieldList: []Field{{Type: FieldSignature}, {Type: FieldName}}},
	}

	assert.Nil(t, CheckLimits(lc, signers, fields, 1024, false))

	three := append(append([]SignerInfo{}, signers...), SignerInfo{Name: "C"})
	v := CheckLimits(lc, three, fields, 1024, false)
	require.NotNil(t, v)
	assert.Equal(t, apperr.CodeMeetSignerLimit, v.Code)
	assert.Equal(t, 2, v.Limit)
	assert.Nil(t, CheckLimits(lc, three, fields, 1024, true))

	fields[1].FieldList = append(fields[1].FieldList, Field{Type: FieldName})
	v = CheckLimits(lc, signers, fields, 1024, false)
	require.NotNil(t, v)
	assert.Equal(t, apperr.CodeMeetFieldLimit, v.Code)
	assert.Equal(t, 1, v.Index)
	fields[1].FieldList = fields[1].FieldList[:2]

	v = CheckLimits(lc, signers, fields, 1024*1024+1, false)
	require.NotNil(t, v)
	assert.Equal(t, apperr.CodeMeetPDFSizeLimit, v.Code)
	assert.Nil(t, CheckLimits(lc, signers, fields, 1024*1024, false))

	lc.EnablePhoneNo = &no
	v = CheckLimits(lc, signers, fields, 1024, false)
	require.NotNil(t, v)
	assert.Equal(t, apperr.CodePhoneNumberDisabled, v.Code)
	assert.Equal(t, 1, v.Index)
}

func TestNewTaskConfigDefaultsLocale(t *testing.T) {
	tc := NewTaskConfig("a.pdf", TaskOptions{SenderMsg: "hi"}, []SignerInfo{{Name: "A"}}, "00")
	assert.Equal(t, DefaultLocale, tc.NotificantLocale)
	assert.Equal(t, "a.pdf", tc.FileName)
	assert.Equal(t, "00", tc.Nonce)
}
