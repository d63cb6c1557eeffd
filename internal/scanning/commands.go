// Package scanning coordinates the scan pipeline: a process manager per scan
// id consumes the five pipeline commands in order, drives the aggregate
// through its transitions and compensates on failure.
package scanning

import (
	"github.com/PQCA/cbomkit-go/internal/model"
)

const (
	TypeRequestScan           = "scan.request"
	TypeResolvePurl           = "scan.resolve-purl"
	TypeCloneRepository       = "scan.clone-repository"
	TypeIdentifyPackageFolder = "scan.identify-package-folder"
	TypeIndexModules          = "scan.index-modules"
	TypeScan                  = "scan.scan"

	TypeDeleteCBOM = "cbom.delete"
)

// PipelineCommandTypes lists the command types a process manager subscribes
// to, in pipeline order.
func PipelineCommandTypes() []string {
	return []string{
		TypeResolvePurl,
		TypeCloneRepository,
		TypeIdentifyPackageFolder,
		TypeIndexModules,
		TypeScan,
	}
}

// RequestScanCommand is the entry trigger. Input is either a package
// coordinate (pkg:...) or a direct repository url.
type RequestScanCommand struct {
	ID          model.ScanID
	Input       string
	Branch      string
	Subfolder   string
	Credentials *model.Credentials
}

func (*RequestScanCommand) Type() string           { return TypeRequestScan }
func (c *RequestScanCommand) ScanID() model.ScanID { return c.ID }

type ResolvePurlCommand struct {
	ID          model.ScanID
	Credentials *model.Credentials
}

func (*ResolvePurlCommand) Type() string           { return TypeResolvePurl }
func (c *ResolvePurlCommand) ScanID() model.ScanID { return c.ID }

type CloneRepositoryCommand struct {
	ID          model.ScanID
	Credentials *model.Credentials
}

func (*CloneRepositoryCommand) Type() string           { return TypeCloneRepository }
func (c *CloneRepositoryCommand) ScanID() model.ScanID { return c.ID }

type IdentifyPackageFolderCommand struct {
	ID model.ScanID
}

func (*IdentifyPackageFolderCommand) Type() string           { return TypeIdentifyPackageFolder }
func (c *IdentifyPackageFolderCommand) ScanID() model.ScanID { return c.ID }

type IndexModulesCommand struct {
	ID model.ScanID
}

func (*IndexModulesCommand) Type() string           { return TypeIndexModules }
func (c *IndexModulesCommand) ScanID() model.ScanID { return c.ID }

type ScanCommand struct {
	ID model.ScanID
}

func (*ScanCommand) Type() string           { return TypeScan }
func (c *ScanCommand) ScanID() model.ScanID { return c.ID }

// DeleteCBOMCommand removes a persisted scan record. It is handled by a
// standalone handler registered at process start, not by the saga.
type DeleteCBOMCommand struct {
	ID model.ScanID
}

func (*DeleteCBOMCommand) Type() string           { return TypeDeleteCBOM }
func (c *DeleteCBOMCommand) ScanID() model.ScanID { return c.ID }
