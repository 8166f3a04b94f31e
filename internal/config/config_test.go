package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when the config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  governance_port: "8081"
  metrics_port: "9091"

gateway:
  monthly_hard_cap_usd: 500
  monthly_soft_alert_usd: 400
  max_retries: 3
  base_delay_seconds: 1
  providers:
    tier0: "bedrock/anthropic.claude-haiku"
    tier1: "anthropic/claude-sonnet"
    tier1p: "anthropic/claude-opus"

governance:
  approval_window: 4h
  canary_min_samples: 50
  canary_max_disagreement: 0.05

store:
  postgres_dsn: "postgres://localhost/investigations"
  redis_addr: "localhost:6379"

log_level: "info"
`
				Expect(os.WriteFile(configFile, []byte(validConfig), 0644)).To(Succeed())
			})

			It("should load the configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())
				Expect(cfg.Server.GovernancePort).To(Equal("8081"))
				Expect(cfg.Gateway.MonthlyHardCapUSD).To(Equal(500.0))
				Expect(cfg.Governance.ApprovalWindow).To(Equal(4 * time.Hour))
				Expect(cfg.Governance.CanaryMinSamples).To(Equal(50))
			})
		})

		Context("when the config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(err).To(HaveOccurred())
			})
		})

		Context("when soft alert exceeds the hard cap", func() {
			BeforeEach(func() {
				invalidConfig := `
gateway:
  monthly_hard_cap_usd: 100
  monthly_soft_alert_usd: 200
`
				Expect(os.WriteFile(configFile, []byte(invalidConfig), 0644)).To(Succeed())
			})

			It("should fail validation", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Default", func() {
		It("should set the spec-mandated retry defaults", func() {
			cfg := Default()
			Expect(cfg.Gateway.MaxRetries).To(Equal(3))
			Expect(cfg.Gateway.BaseDelaySeconds).To(Equal(1.0))
			Expect(cfg.Gateway.ContextBudgetByTier["tier0"]).To(Equal(4096))
			Expect(cfg.Gateway.ContextBudgetByTier["tier1"]).To(Equal(8192))
			Expect(cfg.Gateway.ContextBudgetByTier["tier1p"]).To(Equal(16384))
		})

		It("should default new tenants to shadow mode", func() {
			Expect(Default().Governance.DefaultShadowMode).To(BeTrue())
		})
	})
})
