// Package adminapi documents, as Go types only, the HTTP surface of the
// collaborator tooling that manages GNS3 servers out-of-band from the
// proxy: project lifecycle, node lifecycle, template/appliance listing,
// and compute image management. Nothing here has a transport
// implementation and nothing in the proxy's request path imports this
// package — it exists as the documented interface boundary those tools are
// expected to implement against, not as working code.
package adminapi

// ProjectOpenRequest opens a project on a compute.
type ProjectOpenRequest struct {
	ProjectID string `json:"project_id"`
}

// ProjectCloseRequest closes a project on a compute.
type ProjectCloseRequest struct {
	ProjectID string `json:"project_id"`
}

// ProjectExportRequest exports a project to a portable archive.
type ProjectExportRequest struct {
	ProjectID        string `json:"project_id"`
	IncludeImages    bool   `json:"include_images"`
	IncludeSnapshots bool   `json:"include_snapshots"`
}

// ProjectImportRequest imports a previously exported project archive.
type ProjectImportRequest struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

// ProjectDuplicateRequest clones an existing project under a new name.
type ProjectDuplicateRequest struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

// NodeStartRequest starts one or all nodes in a project.
type NodeStartRequest struct {
	ProjectID string `json:"project_id"`
	NodeID    string `json:"node_id,omitempty"`
}

// NodeStopRequest stops one or all nodes in a project.
type NodeStopRequest struct {
	ProjectID string `json:"project_id"`
	NodeID    string `json:"node_id,omitempty"`
}

// Template describes an appliance template available on a compute.
type Template struct {
	ID       string `json:"template_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Vendor   string `json:"vendor,omitempty"`
}

// TemplateListRequest lists the templates available on a compute.
type TemplateListRequest struct {
	ComputeID string `json:"compute_id"`
}

// ComputeImage describes an image file usable by one or more node types.
type ComputeImage struct {
	Filename  string `json:"filename"`
	ImageType string `json:"image_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// ComputeImageUploadRequest uploads an image file to a compute's image
// directory for a given node type (qemu, iou, dynamips, ...).
type ComputeImageUploadRequest struct {
	ComputeID string `json:"compute_id"`
	NodeType  string `json:"node_type"`
	Filename  string `json:"filename"`
}
