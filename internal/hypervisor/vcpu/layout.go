package vcpu

import "unsafe"

// Offsets into PrivateFrame, exported as compile-time constants so the low-level trap trampoline
// can reference the banked save layout by name. The trampoline stores through these offsets
// directly; reordering PrivateFrame's fields is an ABI change and must be reflected here and in
// the assembly together.
const (
	offGPRUsr = unsafe.Offsetof(PrivateFrame{}.GPRUsr)
	offGPRFiq = unsafe.Offsetof(PrivateFrame{}.GPRFiq)
	offBanked = unsafe.Offsetof(PrivateFrame{}.banked)
	offSPSR   = unsafe.Offsetof(PrivateFrame{}.spsr)

	sizeBankedRegs = unsafe.Sizeof(bankedRegs{})
	sizeRegister   = unsafe.Sizeof(Register(0))
	sizePSR        = unsafe.Sizeof(PSR(0))

	offSPIn = unsafe.Offsetof(bankedRegs{}.SP)
	offLRIn = unsafe.Offsetof(bankedRegs{}.LR)

	OffGPRUsr0 = offGPRUsr
	OffGPRFiq0 = offGPRFiq

	OffSPUsr = offBanked + uintptr(bankUsrSys)*sizeBankedRegs + offSPIn
	OffLRUsr = offBanked + uintptr(bankUsrSys)*sizeBankedRegs + offLRIn
	OffSPFiq = offBanked + uintptr(bankFIQ)*sizeBankedRegs + offSPIn
	OffLRFiq = offBanked + uintptr(bankFIQ)*sizeBankedRegs + offLRIn
	OffSPIrq = offBanked + uintptr(bankIRQ)*sizeBankedRegs + offSPIn
	OffLRIrq = offBanked + uintptr(bankIRQ)*sizeBankedRegs + offLRIn
	OffSPSvc = offBanked + uintptr(bankSVC)*sizeBankedRegs + offSPIn
	OffLRSvc = offBanked + uintptr(bankSVC)*sizeBankedRegs + offLRIn
	OffSPAbt = offBanked + uintptr(bankABT)*sizeBankedRegs + offSPIn
	OffLRAbt = offBanked + uintptr(bankABT)*sizeBankedRegs + offLRIn
	OffSPUnd = offBanked + uintptr(bankUND)*sizeBankedRegs + offSPIn
	OffLRUnd = offBanked + uintptr(bankUND)*sizeBankedRegs + offLRIn
	OffSPMon = offBanked + uintptr(bankMON)*sizeBankedRegs + offSPIn
	OffLRMon = offBanked + uintptr(bankMON)*sizeBankedRegs + offLRIn

	OffSPSRFiq = offSPSR + uintptr(bankFIQ)*sizePSR
	OffSPSRIrq = offSPSR + uintptr(bankIRQ)*sizePSR
	OffSPSRSvc = offSPSR + uintptr(bankSVC)*sizePSR
	OffSPSRAbt = offSPSR + uintptr(bankABT)*sizePSR
	OffSPSRUnd = offSPSR + uintptr(bankUND)*sizePSR
	OffSPSRMon = offSPSR + uintptr(bankMON)*sizePSR

	// Stride between consecutive r8-r12 slots in either gpr bank.
	GPRBankStride = sizeRegister
)
