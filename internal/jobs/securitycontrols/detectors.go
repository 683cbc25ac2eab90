package securitycontrols

// detector is a built-in Security Health Analytics detector.
type detector struct {
	ID          string
	Title       string
	Description string
	Category    string
	Severity    string
	Remediation string
}

var builtinDetectors = []detector{
	{"KMS_PUBLIC_KEY", "KMS Public Key", "Detects if KMS keys are publicly accessible.", "KMS", "HIGH", "Remove public access from the KMS key."},
	{"OPEN_FIREWALL", "Open Firewall", "Detects firewall rules that allow open access (0.0.0.0/0) to sensitive ports.", "Firewall", "HIGH", "Restrict firewall rules to specific IP ranges."},
	{"PUBLIC_BUCKET_ACL", "Public Bucket ACL", "Detects Cloud Storage buckets that are publicly accessible via ACLs.", "Storage", "HIGH", "Remove public ACLs from the bucket."},
	{"PUBLIC_DATASET", "Public Dataset", "Detects BigQuery datasets that are publicly accessible.", "BigQuery", "HIGH", "Remove public access from the dataset."},
	{"SSL_NOT_ENFORCED", "SSL Not Enforced", "Detects Cloud SQL instances that do not enforce SSL.", "SQL", "MEDIUM", "Enforce SSL connections for the Cloud SQL instance."},
	{"MFA_NOT_ENFORCED", "MFA Not Enforced", "Detects users who do not have Multi-Factor Authentication enabled.", "Identity", "HIGH", "Enforce MFA for all users."},
	{"NON_ORG_IAM_MEMBER", "Non-Org IAM Member", "Detects IAM members that belong to an external organization.", "Identity", "MEDIUM", "Remove external members or allow their domains."},
}
