package model

type EncryptedEnvelope struct {
	EncryptedData    string `json:"encryptedData"`
	EncryptedDataKey string `json:"encryptedDataKey"`
	DataIV           string `json:"dataIV"`
}

// SubmitPayload is the body of the submit-task call.
type SubmitPayload struct {
	PublicTaskInfo  PublicTaskInfo  `json:"publicTaskInfo"`
	PrivateTaskInfo PrivateTaskInfo `json:"privateTaskInfo"`
}

type PublicTaskInfo struct {
	InOrder      bool         `json:"inOrder"`
	TemplateInfo TemplateInfo `json:"templateInfo"`
}

type PrivateTaskInfo struct {
	EncryptedTaskConfig  EncryptedEnvelope `json:"encryptedTaskConfig"`
	EncryptedBindingData EncryptedEnvelope `json:"encryptedBindingData"`
}

type SubmitResponse struct {
	TaskID       string `json:"taskID"`
	UploadURL    string `json:"uploadURL"`
	TaskPassword string `json:"taskPassword,omitempty"`
}

type SendResponse struct {
	TaskID          string `json:"taskID"`
	BindingDataHash string `json:"bindingDataHash"`
	TaskPassword    string `json:"taskPassword,omitempty"`
}

type PreviewResponse struct {
	PDFPreviewB64 string `json:"pdfPreviewB64"`
}

type BulkResponse struct {
	TaskList []BulkTaskResult `json:"taskList"`
}

type BulkTaskResult struct {
	TaskInfo      BulkTaskInfo   `json:"taskInfo"`
	SendResponse  *SendResponse  `json:"sendResponse,omitempty"`
	ErrorResponse *ErrorResponse `json:"errorResponse,omitempty"`
}

type BulkTaskInfo struct {
	SignerName        string `json:"signerName"`
	SignerEmailAddr   string `json:"signerEmailAddr"`
	SignerPhoneNumber string `json:"signerPhoneNumber"`
}

type ErrorResponse struct {
	ErrorMsg string `json:"errorMsg"`
}

// TaskStatus is the get-status view of a task. Exactly one of NormalResponse
// and ErrorResponse is set.
type TaskStatus struct {
	TaskID         string              `json:"taskID"`
	TaskTime       string              `json:"taskTime"`
	NormalResponse *TaskNormalResponse `json:"normalResponse,omitempty"`
	ErrorResponse  map[string]any      `json:"errorResponse,omitempty"`
}

type TaskNormalResponse struct {
	IsComplete bool           `json:"isComplete"`
	SignerList []SignerStatus `json:"signerList"`
}

type SignerStatus struct {
	Name        string `json:"name,omitempty"`
	EmailAddr   string `json:"emailAddr,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	IPAddress   string `json:"ipAddress"`
	SigningTime string `json:"signingTime"`
}

// StatusEnvelope is the raw get-status response body.
type StatusEnvelope struct {
	Status              TaskStatus         `json:"status"`
	EncryptedTaskConfig *EncryptedEnvelope `json:"encryptedTaskConfig,omitempty"`
}

type StatusResponse struct {
	Status TaskStatus `json:"status"`
}

// TaskResult is the signed copy of a completed task and its signing proof.
type TaskResult struct {
	SignedPDFB64 string `json:"signedPdfB64"`
	SPFB64       string `json:"spfB64"`
}
