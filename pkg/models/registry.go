package models

import (
	"fmt"

	"github.com/google/uuid"
)

// registry maps table name to descriptor. Populated at init and frozen;
// nothing mutates it afterward.
var registry = map[string]ModelDescriptor{}

func init() {
	for _, d := range []ModelDescriptor{
		ResourceDescriptor,
		FileDescriptor,
		SessionDescriptor,
		MomentDescriptor,
		JobDescriptor,
		TenantDescriptor,
		UserDescriptor,
		AgentDescriptor,
		FunctionDescriptor,
		LanguageModelAPIDescriptor,
		TaskDescriptor,
		ProjectDescriptor,
		APIProxyDescriptor,
		TokenUsageDescriptor,
		ErrorDescriptor,
	} {
		registry[d.Table] = d
	}
}

// DescriptorFor looks up a descriptor by table name
func DescriptorFor(table string) (ModelDescriptor, error) {
	d, ok := registry[table]
	if !ok {
		return ModelDescriptor{}, fmt.Errorf("unknown model table %q", table)
	}
	return d, nil
}

// AllDescriptors returns every registered descriptor
func AllDescriptors() []ModelDescriptor {
	out := make([]ModelDescriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	return out
}

// FileID computes the deterministic file id:
// uuid5(namespace=DNS, tenant_id + ":" + uri)
func FileID(tenantID, uri string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(tenantID+":"+uri)).String()
}

// ChunkID computes the deterministic resource id for a file-derived chunk:
// uuid5(file_id, chunk_index)
func ChunkID(fileID string, chunkIndex int) string {
	ns, err := uuid.Parse(fileID)
	if err != nil {
		// A non-UUID file id still needs a stable chunk id
		ns = uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fileID))
	}
	return uuid.NewSHA1(ns, []byte(fmt.Sprintf("%d", chunkIndex))).String()
}

// NewID returns a random v4 uuid for entities without deterministic ids
func NewID() string {
	return uuid.NewString()
}
