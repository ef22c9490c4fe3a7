// Copyright 2026 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errtable

const (
	portErrors     = "errors/errors"
	fmeErrors      = "errors/fme-errors/errors"
	pcie0Errors    = "errors/pcie0_errors"
	pcie1Errors    = "errors/pcie1_errors"
	nonFatalErrors = "errors/nonfatal_errors"
	catFatalErrors = "errors/catfatal_errors"

	ap1Event   = "ap1_event"
	ap2Event   = "ap2_event"
	powerState = "power_state"

	// AP6Bit is the Port error bit raised on an AP6 power/thermal event.
	AP6Bit = 50
)

// Common Port error fields of revision 0 and 1.
var portCommon = []Entry{
	{portErrors, "Ap6Event", AP6Bit, AP6Bit, PolicyNotifyAP6AndFailsafe},
	{portErrors, "PMRError", 49, 49, PolicyNotify},
	{portErrors, "PageFault", 48, 48, PolicyNotify},
	{portErrors, "VgaMemRangeError", 47, 47, PolicyNotify},
	{portErrors, "LegRangeHighError", 46, 46, PolicyNotify},
	{portErrors, "LegRangeLowError", 45, 45, PolicyNotify},
	{portErrors, "GenProtRangeError", 44, 44, PolicyNotify},
	{portErrors, "L1prMesegError", 43, 43, PolicyNotify},
	{portErrors, "L1prSmrr2Error", 42, 42, PolicyNotify},
	{portErrors, "L1prSmrrError", 41, 41, PolicyNotify},
	{portErrors, "TxReqCounterOverflow", 40, 40, PolicyNotify},
	{portErrors, "UnexpMMIOResp", 34, 34, PolicyNotify},
	{portErrors, "TxCh2FifoOverflow", 33, 33, PolicyNotify},
	{portErrors, "MMIOTimedOut", 32, 32, PolicyNotify},
	{portErrors, "TxCh1NonZeroSOP", 24, 24, PolicyNotify},
	{portErrors, "TxCh1IncorrectAddr", 23, 23, PolicyNotify},
	{portErrors, "TxCh1DataPayloadOverrun", 22, 22, PolicyNotify},
	{portErrors, "TxCh1InsufficientData", 21, 21, PolicyNotify},
	{portErrors, "TxCh1Len4NotAligned", 20, 20, PolicyNotify},
	{portErrors, "TxCh1Len2NotAligned", 19, 19, PolicyNotify},
	{portErrors, "TxCh1Len3NotSupported", 18, 18, PolicyNotify},
	{portErrors, "TxCh1InvalidReqEncoding", 17, 17, PolicyNotify},
	{portErrors, "TxCh1Overflow", 16, 16, PolicyNotify},
	{portErrors, "TxCh0Len4NotAligned", 4, 4, PolicyNotify},
	{portErrors, "TxCh0Len2NotAligned", 3, 3, PolicyNotify},
	{portErrors, "TxCh0Len3NotSupported", 2, 2, PolicyNotify},
	{portErrors, "TxCh0InvalidReqEncoding", 1, 1, PolicyNotify},
	{portErrors, "TxCh0Overflow", 0, 0, PolicyNotify},
}

// PortRev0 is the error table of revision 0 accelerator ports.
var PortRev0 = Table{
	Name: "port-rev0",
	Entries: concat(
		[]Entry{{portErrors, "VfFlrAccessError", 51, 51, PolicyNotify}},
		portCommon,
	),
}

// PortRev1 is the error table of revision 1 accelerator ports.
var PortRev1 = Table{
	Name: "port-rev1",
	Entries: concat(
		[]Entry{
			{portErrors, "MMIOWrWhileRst", 53, 53, PolicyNotify},
			{portErrors, "MMIORdWhileRst", 52, 52, PolicyNotify},
			{portErrors, "VfFlrAccessError", 51, 51, PolicyNotify},
		},
		portCommon,
	),
}

var fmeCommon = []Entry{
	{fmeErrors, "Fabric error detected", 0, 0, PolicyNotify},
	{fmeErrors, "Fabric fifo under / overflow error detected", 1, 1, PolicyNotify},
	{fmeErrors, "KTI CDC Parity Error detected", 2, 2, PolicyNotify},
	{fmeErrors, "KTI CDC Parity Error detected", 3, 3, PolicyNotify},
	{fmeErrors, "IOMMU Parity error detected", 4, 4, PolicyNotify},
	{fmeErrors, "AFU PF/VF access mismatch detected", 5, 5, PolicyNotify},
	{fmeErrors, "Indicates an MBP event error detected", 6, 6, PolicyNotify},

	{pcie0Errors, "TLP format/type error detected", 0, 0, PolicyNotify},
	{pcie0Errors, "TTLP MW address error detected", 1, 1, PolicyNotify},
	{pcie0Errors, "TLP MW length error detected", 2, 2, PolicyNotify},
	{pcie0Errors, "TLP MR address error detected", 3, 3, PolicyNotify},
	{pcie0Errors, "TLP MR length error detected", 4, 4, PolicyNotify},
	{pcie0Errors, "TLP CPL tag error detected", 5, 5, PolicyNotify},
	{pcie0Errors, "TLP CPL status error detected", 6, 6, PolicyNotify},
	{pcie0Errors, "TLP CPL timeout error detected", 7, 7, PolicyNotify},
	{pcie0Errors, "CCI bridge parity error detected", 8, 8, PolicyNotify},
	{pcie0Errors, "TLP with EP error detected", 9, 9, PolicyNotify},

	{nonFatalErrors, "Temperature threshold triggered AP1 detected", 0, 0, PolicyNotify},
	{nonFatalErrors, "Temperature threshold triggered AP2 detected", 1, 1, PolicyNotify},
	{nonFatalErrors, "PCIe error detected", 2, 2, PolicyNotify},
	{nonFatalErrors, "AFU port Fatal error detected", 3, 3, PolicyNotify},
	{nonFatalErrors, "ProcHot event error detected", 4, 4, PolicyNotify},
	{nonFatalErrors, "AFU PF/VF access mismatch error detected", 5, 5, PolicyNotify},
	{nonFatalErrors, "Injected Warning Error detected", 6, 6, PolicyNotify},
	{nonFatalErrors, "Temperature threshold triggered AP6 detected", 9, 9, PolicyNotifyAP6},
	{nonFatalErrors, "Power threshold triggered AP1 error detected", 10, 10, PolicyNotify},
	{nonFatalErrors, "Power threshold triggered AP2 error detected", 11, 11, PolicyNotify},
	{nonFatalErrors, "MBP event error detected", 12, 12, PolicyNotify},

	{catFatalErrors, "KTI link layer error detected", 0, 0, PolicyNotify},
	{catFatalErrors, "tag-n-cache error detected", 1, 1, PolicyNotify},
	{catFatalErrors, "CCI error detected", 2, 2, PolicyNotify},
	{catFatalErrors, "KTI protocol error detected", 3, 3, PolicyNotify},
	{catFatalErrors, "Fatal DRAM error detected", 4, 4, PolicyNotify},
	{catFatalErrors, "IOMMU fatal parity error detected", 5, 5, PolicyNotify},
	{catFatalErrors, "Fabric fatal error detected", 6, 6, PolicyNotify},
	{catFatalErrors, "Poison error from any of PCIe ports detected", 7, 7, PolicyNotify},
	{catFatalErrors, "Injected Fatal Error detected", 8, 8, PolicyNotify},
	{catFatalErrors, "Catastrophic CRC error detected", 9, 9, PolicyNotify},
	{catFatalErrors, "Catastrophic thermal runaway event detected", 10, 10, PolicyNotify},
	{catFatalErrors, "Injected Catastrophic Error detected", 11, 11, PolicyNotify},
}

// FMERev0 is the error table of revision 0 management functions.
var FMERev0 = Table{
	Name: "fme-rev0",
	Entries: concat(
		fmeCommon,
		[]Entry{
			{pcie1Errors, "TLP format/type error detected", 0, 0, PolicyNotify},
			{pcie1Errors, "TTLP MW address error detected", 1, 1, PolicyNotify},
			{pcie1Errors, "TLP MW length error detected", 2, 2, PolicyNotify},
			{pcie1Errors, "TLP MR address error detected", 3, 3, PolicyNotify},
			{pcie1Errors, "TLP MR length error detected", 4, 4, PolicyNotify},
			{pcie1Errors, "TLP CPL tag error detected", 5, 5, PolicyNotify},
			{pcie1Errors, "TLP CPL status error detected", 6, 6, PolicyNotify},
			{pcie1Errors, "TLP CPL timeout error detected", 7, 7, PolicyNotify},
			{pcie1Errors, "CCI bridge parity error detected", 8, 8, PolicyNotify},
			{pcie1Errors, "TLP with EP error detected", 9, 9, PolicyNotify},
		},
	),
}

// FMERev1 is the error table of revision 1 management functions, which
// have a single PCIe link.
var FMERev1 = Table{
	Name: "fme-rev1",
	Entries: concat(
		fmeCommon,
		[]Entry{
			{fmeErrors, "PCIe poison detected on the FME", 7, 7, PolicyNotify},
			{catFatalErrors, "Injected Catastrophic Error detected on the FME", 12, 12, PolicyNotify},
		},
	),
}

// APEvents is the table of power state and AP1/AP2 threshold transitions
// reported by accelerator ports.
var APEvents = Table{
	Name: "ap-events",
	Entries: []Entry{
		{ap1Event, "AP1 Triggered", 0, 0, PolicyNotifyAP6},
		{ap2Event, "AP2 Triggered", 0, 0, PolicyNotifyAP6},
		{powerState, "Power state changed", 0, 1, PolicyNone},
	},
}

func concat(tables ...[]Entry) []Entry {
	var n int
	for _, t := range tables {
		n += len(t)
	}

	out := make([]Entry, 0, n)
	for _, t := range tables {
		out = append(out, t...)
	}

	return out
}
