package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Generator — интерфейс (удобно мокать в тестах)
type Generator interface {
	GenerateActivationCertificate(data CertificateData) (string, error)
}

type CertificateData struct {
	UserID      int
	Username    string
	Phone       string
	Stores      []string
	ActivatedAt time.Time
	Filename    string // имя файла (без путей); если пусто — сгенерируем
}

// CertificateGenerator renders the vendor activation certificate that
// is produced after a successful account activation.
type CertificateGenerator struct {
	RootDir  string
	FontPath string // optional TTF; built-in Helvetica when empty
	fontName string
}

func NewCertificateGenerator(rootDir, fontPath string) *CertificateGenerator {
	g := &CertificateGenerator{
		RootDir:  filepath.Clean(rootDir),
		FontPath: fontPath,
		fontName: "Helvetica",
	}
	if fontPath != "" {
		g.fontName = "Custom"
	}
	return g
}

func (g *CertificateGenerator) GenerateActivationCertificate(data CertificateData) (string, error) {
	filename := data.Filename
	if filename == "" {
		filename = fmt.Sprintf("activation_user_%d.pdf", data.UserID)
	}
	absPath, err := g.ensureTarget(filename)
	if err != nil {
		return "", err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Activation certificate #%d", data.UserID), false)
	pdf.SetAuthor("qooqz marketplace", false)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)

	g.addFont(pdf)
	pdf.AddPage()

	pdf.SetFont(g.fontName, "B", 18)
	pdf.CellFormat(0, 10, "VENDOR ACTIVATION CERTIFICATE", "", 1, "C", false, 0, "")

	pdf.SetFont(g.fontName, "", 12)
	sub := fmt.Sprintf("No. QQZ-%06d  issued  %s",
		data.UserID,
		data.ActivatedAt.Format("02.01.2006"),
	)
	pdf.CellFormat(0, 7, sub, "", 1, "C", false, 0, "")
	g.hr(pdf)

	pdf.Ln(3)

	g.sectionTitle(pdf, "Vendor")
	g.kvLine(pdf, "Account", data.Username)
	g.kvLine(pdf, "Phone", data.Phone)
	g.kvLine(pdf, "Activated at", data.ActivatedAt.Format(time.RFC3339))
	pdf.Ln(2)
	g.hr(pdf)

	g.sectionTitle(pdf, "Activated stores")
	pdf.SetFont(g.fontName, "", 11)
	if len(data.Stores) == 0 {
		pdf.MultiCell(0, 6, "No stores registered at activation time.", "", "L", false)
	}
	for i, name := range data.Stores {
		pdf.MultiCell(0, 6, fmt.Sprintf("%d. %s", i+1, name), "", "L", false)
	}
	pdf.Ln(2)
	g.hr(pdf)

	pdf.SetFont(g.fontName, "", 10)
	pdf.MultiCell(0, 5,
		"This certificate confirms that the vendor account above passed phone "+
			"verification and was activated on the qooqz marketplace together with "+
			"the stores listed.", "", "L", false)

	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(g.fontName, "", 10)
		pdf.CellFormat(0, 10,
			fmt.Sprintf("Page %d/{nb}", pdf.PageNo()),
			"", 0, "C", false, 0, "",
		)
	})

	if err := pdf.OutputFileAndClose(absPath); err != nil {
		return "", err
	}
	return "/" + filepath.ToSlash(filepath.Base(absPath)), nil
}

// ===== helpers =====

func (g *CertificateGenerator) ensureTarget(filename string) (string, error) {
	if err := os.MkdirAll(g.RootDir, 0o755); err != nil {
		return "", fmt.Errorf("create files dir: %w", err)
	}
	filename = filepath.Base(filename) // безопасность
	return filepath.Join(g.RootDir, filename), nil
}

func (g *CertificateGenerator) addFont(pdf *gofpdf.Fpdf) {
	if g.FontPath == "" {
		return
	}
	pdf.AddUTF8Font(g.fontName, "", g.FontPath)
	pdf.AddUTF8Font(g.fontName, "B", g.FontPath)
}

func (g *CertificateGenerator) sectionTitle(pdf *gofpdf.Fpdf, s string) {
	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 7, s, "", 1, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 11)
}

func (g *CertificateGenerator) kvLine(pdf *gofpdf.Fpdf, key, val string) {
	pdf.SetFont(g.fontName, "B", 11)
	pdf.CellFormat(45, 6, key+":", "", 0, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 11)
	pdf.CellFormat(0, 6, val, "", 1, "L", false, 0, "")
}

func (g *CertificateGenerator) hr(pdf *gofpdf.Fpdf) {
	y := pdf.GetY() + 1.5
	pdf.SetLineWidth(0.2)
	pdf.Line(20, y, 190, y)
	pdf.SetY(y + 2)
}
